package postgres

import "testing"

func TestInferAWSRegionFromHost(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"mydb.abc123xyz.us-east-1.rds.amazonaws.com", "us-east-1"},
		{"mydb.abc123xyz.eu-west-2.rds.amazonaws.com:5432", "eu-west-2"},
		{"https://mydb.abc123xyz.ap-southeast-1.rds.amazonaws.com", "ap-southeast-1"},
		{"localhost", ""},
		{"", ""},
		{"plain.example.com", ""},
	}
	for _, c := range cases {
		if got := inferAWSRegionFromHost(c.host); got != c.want {
			t.Errorf("inferAWSRegionFromHost(%q) = %q, want %q", c.host, got, c.want)
		}
	}
}

func TestRdsIAMConfigFromOptions_Disabled(t *testing.T) {
	cfg, err := rdsIAMConfigFromOptions(nil, "mydb.abc.us-east-1.rds.amazonaws.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled config when options is nil")
	}

	cfg, err = rdsIAMConfigFromOptions(map[string]string{"aws_rds_iam": "false"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled config when aws_rds_iam=false")
	}
}

func TestRdsIAMConfigFromOptions_RegionFromHost(t *testing.T) {
	cfg, err := rdsIAMConfigFromOptions(map[string]string{
		"aws_rds_iam": "true",
	}, "mydb.abc123xyz.us-west-2.rds.amazonaws.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Enabled {
		t.Fatalf("expected enabled config")
	}
	if cfg.Region != "us-west-2" {
		t.Fatalf("expected region inferred from host, got %q", cfg.Region)
	}
}

func TestRdsIAMConfigFromOptions_ExplicitRegionWins(t *testing.T) {
	cfg, err := rdsIAMConfigFromOptions(map[string]string{
		"aws_rds_iam": "1",
		"aws_region":  "eu-central-1",
	}, "mydb.abc123xyz.us-west-2.rds.amazonaws.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "eu-central-1" {
		t.Fatalf("expected explicit aws_region to win, got %q", cfg.Region)
	}
}

func TestRdsIAMConfigFromOptions_MissingRegionFails(t *testing.T) {
	_, err := rdsIAMConfigFromOptions(map[string]string{
		"aws_rds_iam": "true",
	}, "localhost")
	if err == nil {
		t.Fatalf("expected error when region cannot be determined")
	}
}

func TestRdsIAMConfigFromOptions_RoleARNDefaultsSessionName(t *testing.T) {
	cfg, err := rdsIAMConfigFromOptions(map[string]string{
		"aws_rds_iam":   "true",
		"aws_region":    "us-east-1",
		"aws_role_arn":  "arn:aws:iam::123456789012:role/replicator",
		"aws_role_name": "ignored",
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RoleSessionName != "pgreplicate-rds-iam" {
		t.Fatalf("expected default role session name, got %q", cfg.RoleSessionName)
	}
}

func TestParseBoolOption(t *testing.T) {
	cases := []struct {
		raw      string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"NO", true, false},
		{"off", true, false},
		{"", false, false},
		{"", true, true},
		{"garbage", true, true},
	}
	for _, c := range cases {
		if got := parseBoolOption(c.raw, c.fallback); got != c.want {
			t.Errorf("parseBoolOption(%q, %v) = %v, want %v", c.raw, c.fallback, got, c.want)
		}
	}
}
