package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/backup"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/config"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/service"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Backup passphrases come from the environment so they stay out of argv.
const backupPassphraseEnv = "VOIPMS_BACKUP_PASSPHRASE"

var (
	syncRecent     bool
	sendDID        string
	sendTo         string
	verifyUsername string
	verifyPassword string
	exportEncrypt  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			result, err := a.syncer.Sync(ctx, models.SyncOptions{ForceRecent: syncRecent})
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d chunks, %d retrieved, %d inserted, %d conversations with new messages\n",
					result.RunID, result.Chunks, result.Retrieved, result.Inserted, len(result.Conversations))
			}
			return err
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send --did DID --to NUMBER TEXT...",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			cid, err := parseConversation(a, sendDID, sendTo)
			if err != nil {
				return err
			}
			ids, err := a.sender.SendText(ctx, cid, strings.Join(args, " "))
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "stored message %d\n", id)
			}
			return err
		})
	},
}

var didsCmd = &cobra.Command{
	Use:   "dids",
	Short: "List the account's SMS enabled DIDs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.RequireCredentials(cfg); err != nil {
			return err
		}

		lister := service.NewRetrieveDidsWorker(newVoipClient(cfg, logger), cfg.Retry, logger)
		dids, err := lister.RetrieveDIDs(cmd.Context())
		if err != nil {
			return err
		}
		return printDIDs(cmd.OutOrStdout(), dids, cfg.VoipMS.Region)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the API credentials are accepted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		username, password := cfg.VoipMS.Username, cfg.VoipMS.Password
		if verifyUsername != "" {
			username = verifyUsername
		}
		if verifyPassword != "" {
			password = verifyPassword
		}

		verifier := service.NewVerifyCredentialsWorker(newVoipClient(cfg, logger), cfg.Retry, logger)
		ok, err := verifier.Verify(cmd.Context(), username, password)
		if err != nil {
			return fmt.Errorf("could not verify credentials: %w", err)
		}
		if !ok {
			return fmt.Errorf("credentials rejected")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "credentials valid")
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write a backup of the local store (use - for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase := ""
		if exportEncrypt {
			passphrase = os.Getenv(backupPassphraseEnv)
			if passphrase == "" {
				return fmt.Errorf("%s must be set to encrypt the backup", backupPassphraseEnv)
			}
		}
		return withStore(cmd.Context(), func(ctx context.Context, exporter *backup.Exporter) error {
			out := cmd.OutOrStdout()
			if args[0] != "-" {
				f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.DefaultFilePerms)
				if err != nil {
					return fmt.Errorf("failed to create backup file: %w", err)
				}
				defer f.Close()
				out = f
			}
			summary, err := exporter.Export(ctx, out, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d messages, %d drafts (%d bytes)\n",
				summary.Messages, summary.Drafts, summary.Bytes)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the local store with the contents of a backup (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, exporter *backup.Exporter) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open backup file: %w", err)
				}
				defer f.Close()
				in = f
			}
			summary, err := exporter.Import(ctx, in, os.Getenv(backupPassphraseEnv))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages, %d drafts, %d archived conversations\n",
				summary.Messages, summary.Drafts, summary.Archived)
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncRecent, "recent", false, "Only retrieve messages newer than the latest stored one")

	sendCmd.Flags().StringVar(&sendDID, "did", "", "DID to send from")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Recipient phone number")
	_ = sendCmd.MarkFlagRequired("did")
	_ = sendCmd.MarkFlagRequired("to")

	verifyCmd.Flags().StringVar(&verifyUsername, "username", "", "Account email address (defaults to the configured one)")
	verifyCmd.Flags().StringVar(&verifyPassword, "password", "", "API password (defaults to the configured one)")

	exportCmd.Flags().BoolVar(&exportEncrypt, "encrypt", false, "Encrypt the backup with $"+backupPassphraseEnv)
}

// withApp loads configuration, opens the store and wires the workers for
// commands that talk to the API.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, db, newVoipClient(cfg, logger))
	if err != nil {
		_ = db.Close()
		return err
	}
	defer a.close()

	return fn(service.WithVerboseLogging(ctx, verbose), a)
}

// withStore opens only the store, for commands that never reach the API.
func withStore(ctx context.Context, fn func(context.Context, *backup.Exporter) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()
	return fn(ctx, backup.NewExporter(db, logger))
}

// parseConversation validates a DID and a user supplied contact number.
func parseConversation(a *app, did, contact string) (models.ConversationID, error) {
	did = validation.CanonicalizeNumber(did)
	if !a.hasDID(did) {
		return models.ConversationID{}, apperrors.NewValidationError("did", fmt.Sprintf("%s is not a configured DID", did))
	}
	normalized, err := validation.NormalizePhoneNumber(contact, a.cfg.VoipMS.Region)
	if err != nil {
		return models.ConversationID{}, err
	}
	return models.ConversationID{DID: did, Contact: normalized}, nil
}

func printDIDs(w io.Writer, dids []models.DID, region string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tDISPLAY\tDESCRIPTION")
	for _, did := range dids {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", did.Number, validation.FormatForDisplay(did.Number, region), did.Description)
	}
	return tw.Flush()
}

// runServe starts the HTTP API and the scheduler and blocks until ctx is
// cancelled or the server fails.
func runServe(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting voipms-sms")

	shutdownTracing := initTracing(ctx, cfg, logger)
	defer shutdownTracing()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger, db, newVoipClient(cfg, logger))
	if err != nil {
		_ = db.Close()
		return err
	}
	defer a.close()

	ctx = service.WithVerboseLogging(ctx, verbose)

	watcher := config.NewConfigWatcher(configPath, logger)
	watcher.OnConfigChange(func(updated *models.Config) {
		applyLogLevel(logger, updated)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	scheduler := service.NewSyncScheduler(a.syncer, cfg.Sync.IntervalMinutes, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := service.NewDeliveryMonitor(db,
		time.Duration(constants.DeliveryCheckIntervalSec)*time.Second,
		time.Duration(constants.DeliveryStaleAfterSec)*time.Second,
		logger)
	go monitor.Start(ctx)
	defer monitor.Stop()

	server := NewServer(a)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
