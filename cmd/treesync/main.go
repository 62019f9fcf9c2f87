package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/treesync/treesync/internal/sync"
	"github.com/treesync/treesync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "treesync <source> <target>",
	Short: "One-way tree synchronization across storage backends",
	Long: "treesync mirrors a source item tree onto a target item tree. Roots are\n" +
		"local paths or s3://bucket/prefix URIs, optionally wrapped in a\n" +
		"transparent encryption layer.",
	Version: version.Detailed(),
	Args:    cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSync(cmd.Context(), args[0], args[1])
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.SortFlags = false
	flags.Bool("create-dirs", true, "create directories missing from the target")
	flags.Bool("create-files", true, "create files missing from the target")
	flags.Bool("update-files", true, "overwrite target files that differ from source")
	flags.Bool("delete-dirs", false, "delete target directories absent from the source")
	flags.Bool("delete-files", false, "delete target files absent from the source")
	flags.Int("retries", 3, "immediate re-attempts after a failed backend operation")
	flags.String("methods", "length,modtime", "equality methods: length, modtime, digest, none")
	flags.Bool("encrypt-source", false, "treat the source root as encrypted")
	flags.Bool("encrypt-target", false, "treat the target root as encrypted")
	flags.Bool("encrypt-names", true, "with encryption, also encrypt item names")
	flags.Bool("dry-run", false, "decide and report actions without mutating the target")
	flags.BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file")
}

func main() {
	// Credentials and the passphrase may live in a .env next to the binary.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".treesync"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	for _, key := range []string{
		"create-dirs", "create-files", "update-files", "delete-dirs", "delete-files",
		"retries", "methods", "encrypt-source", "encrypt-target", "encrypt-names",
		"dry-run", "verbose",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}

	viper.SetEnvPrefix("TREESYNC")
	viper.AutomaticEnv()

	setupLogging(viper.GetBool("verbose"))
	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func runSync(ctx context.Context, sourceArg, targetArg string) error {
	policy := sync.Policy{
		CreateDirs:  viper.GetBool("create-dirs"),
		CreateFiles: viper.GetBool("create-files"),
		UpdateFiles: viper.GetBool("update-files"),
		DeleteDirs:  viper.GetBool("delete-dirs"),
		DeleteFiles: viper.GetBool("delete-files"),
		MaxRetries:  viper.GetInt("retries"),
	}
	if policy.MaxRetries < 0 {
		return errors.New("retries must be >= 0")
	}
	if viper.GetBool("dry-run") {
		policy.CreateDirs = false
		policy.CreateFiles = false
		policy.UpdateFiles = false
		policy.DeleteDirs = false
		policy.DeleteFiles = false
	}

	methods, err := sync.ParseMethods(viper.GetString("methods"))
	if err != nil {
		return err
	}

	source, err := resolveRoot(ctx, sourceArg, viper.GetBool("encrypt-source"))
	if err != nil {
		return fmt.Errorf("source root: %w", err)
	}
	target, err := resolveRoot(ctx, targetArg, viper.GetBool("encrypt-target"))
	if err != nil {
		return fmt.Errorf("target root: %w", err)
	}

	// One run per root pair: a second invocation against the same pair
	// waits for no one, it just refuses.
	lock, err := acquireRunLock(sourceArg, targetArg)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	obs := newConsoleObserver(os.Stdout)
	engine := sync.New(policy, methods, obs)

	result, err := engine.Run(ctx, source, target)
	obs.printSummary(result)

	if result.Outcome != sync.OutcomeCompleted {
		return err
	}
	return nil
}

func acquireRunLock(sourceArg, targetArg string) (*flock.Flock, error) {
	pair := sha256.Sum256([]byte(sourceArg + "\x00" + targetArg))
	path := filepath.Join(os.TempDir(), "treesync-"+hex.EncodeToString(pair[:8])+".lock")

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("run lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another run is already syncing this root pair (lock %s)", path)
	}
	return lock, nil
}
