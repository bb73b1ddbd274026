package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillbyte/pgreplicate/internal/logging"
	"github.com/quillbyte/pgreplicate/internal/postgres"
)

// SessionConfig holds everything a ReplicationSession needs to attach to a
// server slot and start streaming. It is populated by Builder, never
// constructed directly by callers outside this package.
type SessionConfig struct {
	DSN                  string
	SlotName             string
	Plugin               string
	DropSlotOnClose      bool
	StatusUpdateInterval time.Duration
	StreamParams         map[string]string
	ForceRDS             bool

	serverMajorVersion int
}

// TemporarySlot reports whether the slot should be created TEMPORARY:
// dropSlotOnClose is requested and the server is new enough to support it.
func (c SessionConfig) TemporarySlot() bool {
	return c.DropSlotOnClose && c.serverMajorVersion >= 10
}

// Builder constructs a ReplicationSession with fluent setters, mirroring
// this codebase's functional-option convention but staged as a builder
// because session construction itself is multi-step and fallible (it must
// dial two connections and reconcile slot state before returning).
type Builder struct {
	cfg           SessionConfig
	logger        logging.Logger
	decoder       MessageDecoder
	awsIAMOptions map[string]string
}

// NewBuilder returns a Builder with defaults matching the teacher's own
// PostgresStream defaults: pgoutput plugin, 10s status interval.
func NewBuilder(dsn string) *Builder {
	return &Builder{
		cfg: SessionConfig{
			DSN:                  dsn,
			Plugin:               "pgoutput",
			StatusUpdateInterval: 10 * time.Second,
		},
		logger: logging.NoOp(),
	}
}

func (b *Builder) WithSlotName(name string) *Builder {
	b.cfg.SlotName = name
	return b
}

func (b *Builder) WithPlugin(plugin string) *Builder {
	b.cfg.Plugin = plugin
	return b
}

func (b *Builder) WithDropSlotOnClose(drop bool) *Builder {
	b.cfg.DropSlotOnClose = drop
	return b
}

func (b *Builder) WithStatusUpdateInterval(interval time.Duration) *Builder {
	b.cfg.StatusUpdateInterval = interval
	return b
}

// WithStreamParams parses the "k1=v1;k2=v2" syntax and logs a warning for
// every malformed pair instead of failing the build. Warnings go to the
// logger installed by WithLogger before this call (the no-op logger if none).
func (b *Builder) WithStreamParams(raw string) *Builder {
	params, warnings := ParseStreamParams(raw)
	b.cfg.StreamParams = params
	for _, w := range warnings {
		b.logger.Warn("ignoring malformed stream param", logging.Fields{"pair": w})
	}
	return b
}

func (b *Builder) WithForceRDS(force bool) *Builder {
	b.cfg.ForceRDS = force
	return b
}

func (b *Builder) WithLogger(logger logging.Logger) *Builder {
	b.logger = logging.OrNoOp(logger)
	return b
}

// WithDecoder installs the MessageDecoder the resulting session's stream
// will use. When set, it also owns the plugin startup options: its
// TryOnceOptions/OptionsWithMetadata/OptionsWithoutMetadata methods are
// consulted during option negotiation instead of the session's defaults.
func (b *Builder) WithDecoder(decoder MessageDecoder) *Builder {
	b.decoder = decoder
	return b
}

// WithAWSIAMAuth enables RDS IAM authentication for both connections this
// Builder opens, in place of whatever password is embedded in the DSN.
// options accepts the same aws_region/aws_profile/aws_role_arn keys as
// postgres.NewRDSIAMTokenProvider.
func (b *Builder) WithAWSIAMAuth(options map[string]string) *Builder {
	b.awsIAMOptions = options
	return b
}

// Build validates required fields, dials a control connection and a
// dedicated replication connection, reconciles the slot, and returns an
// immutable session handle. Any failure releases every connection opened
// along the way.
func (b *Builder) Build(ctx context.Context) (*ReplicationSession, error) {
	if b.logger == nil {
		b.logger = logging.NoOp()
	}

	if b.cfg.DSN == "" {
		return nil, fmt.Errorf("%w: dsn is required", ErrInternal)
	}
	if b.cfg.SlotName == "" {
		return nil, fmt.Errorf("%w: slot name is required", ErrInternal)
	}
	if b.cfg.Plugin == "" {
		return nil, fmt.Errorf("%w: plugin is required", ErrInternal)
	}

	sessionID := uuid.NewString()
	b.logger = logging.WithFields(b.logger, logging.Fields{"sessionID": sessionID})

	var iamProvider *postgres.RDSIAMTokenProvider
	if b.awsIAMOptions != nil {
		var err error
		iamProvider, err = postgres.NewRDSIAMTokenProvider(ctx, b.cfg.DSN, b.awsIAMOptions)
		if err != nil {
			return nil, fmt.Errorf("configure rds iam auth: %w", err)
		}
	}

	control, err := NewControlConnection(ctx, b.cfg.DSN, b.logger, iamProvider)
	if err != nil {
		return nil, err
	}

	major, err := control.ServerMajorVersion(ctx)
	if err != nil {
		control.Close()
		return nil, err
	}
	b.cfg.serverMajorVersion = major

	replConn, err := dialReplicationConn(ctx, b.cfg.DSN, iamProvider)
	if err != nil {
		control.Close()
		return nil, err
	}

	manager := NewSlotManager(b.logger)
	startingLSN, err := manager.Ensure(ctx, b.cfg, control, replConn)
	if err != nil {
		replConn.Close(ctx)
		control.Close()
		return nil, err
	}

	session := &ReplicationSession{
		cfg:             b.cfg,
		sessionID:       sessionID,
		control:         control,
		replConn:        replConn,
		logger:          b.logger,
		defaultStartPos: startingLSN,
		manager:         manager,
		decoder:         b.decoder,
	}
	return session, nil
}
