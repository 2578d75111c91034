// Package command holds the cobra commands of the server binary. Running the
// binary without a sub-command serves HTTP. The migrate sub-command applies
// the embedded schema and "user create" provisions accounts.
//
//	./server                 # serve HTTP
//	./server migrate
//	./server user create --username admin --password secret --role ADMIN
package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/pkg/config"
	"github.com/noah-isme/subject-registration-api/pkg/database"
	"github.com/noah-isme/subject-registration-api/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Subject registration API",
	Long: `Subject registration API serves the subject catalog and lets users
take and release seats in subjects with a fixed capacity. Administrators
manage subjects and follow registrations from the dashboard.`,
	SilenceUsage: true,
	RunE:         serve,
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, userCmd)
}

// runtime bundles what every command needs before touching the database.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &runtime{cfg: cfg, logger: logr}, nil
}

func (r *runtime) openDatabase(ctx context.Context) (*sqlx.DB, error) {
	db, err := database.NewPostgres(ctx, r.cfg.Database)
	if err != nil {
		return nil, err
	}
	r.logger.Info("database connected",
		zap.String("host", r.cfg.Database.Host),
		zap.String("database", r.cfg.Database.Name))
	return db, nil
}

func (r *runtime) close() {
	_ = r.logger.Sync()
}
