// Command citiesctl drives the city synchronizer against the remote document
// store and prints the resulting state as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLogger "github.com/FACorreiaa/worldwise-cities/app/logger"
	"github.com/FACorreiaa/worldwise-cities/config"
	"github.com/FACorreiaa/worldwise-cities/internal/citysync"
	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

// errRejected is returned when the synchronizer ends in an error state. The
// message itself is already part of the printed state.
var errRejected = errors.New("operation rejected")

type storeFactory func(baseURL, auth string, timeout time.Duration, logger *slog.Logger) (citysync.Store, error)

type app struct {
	out      io.Writer
	errOut   io.Writer
	newStore storeFactory

	baseURL string
	auth    string
	timeout time.Duration
	verbose bool
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr, newStore: firebaseStore}

	// config only supplies flag defaults here
	if cfg, err := config.InitConfig(); err == nil {
		a.baseURL, a.auth, a.timeout = cfg.Firebase.BaseURL, cfg.Firebase.Auth, cfg.Firebase.Timeout
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		cancel()
		os.Exit(1)
	}
}

func firebaseStore(baseURL, auth string, timeout time.Duration, logger *slog.Logger) (citysync.Store, error) {
	opts := []firebase.Option{firebase.WithHTTPClient(&http.Client{Timeout: timeout})}
	if auth != "" {
		opts = append(opts, firebase.WithAuth(auth))
	}
	return firebase.NewClient(baseURL, logger, opts...)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "citiesctl",
		Short:         "Manage the remote city list",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", a.baseURL, "document store base URL")
	root.PersistentFlags().StringVar(&a.auth, "auth", a.auth, "auth token appended to every request")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", orDefault(a.timeout, 15*time.Second), "per-operation timeout")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print every city",
			Args:  cobra.NoArgs,
			RunE: a.withSync(func(ctx context.Context, _ *citysync.Synchronizer, _ []string) error {
				return nil // the initial load is the listing
			}),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Load one city as the current city",
			Args:  cobra.ExactArgs(1),
			RunE: a.withSync(func(ctx context.Context, s *citysync.Synchronizer, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				s.GetCity(ctx, id)
				return nil
			}),
		},
		newCreateCmd(a),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a city",
			Args:  cobra.ExactArgs(1),
			RunE: a.withSync(func(ctx context.Context, s *citysync.Synchronizer, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				s.DeleteCity(ctx, id)
				return nil
			}),
		},
	)
	return root
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		name    string
		country string
		attrs   []string
		id      int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a city",
		Args:  cobra.NoArgs,
		RunE: a.withSync(func(ctx context.Context, s *citysync.Synchronizer, _ []string) error {
			city := types.City{ID: id, Attributes: map[string]any{}}
			if name != "" {
				city.Attributes["cityName"] = name
			}
			if country != "" {
				city.Attributes["country"] = country
			}
			for _, kv := range attrs {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --attr %q, want key=value", kv)
				}
				if k == "id" || k == "index" {
					return fmt.Errorf("--attr cannot set %q", k)
				}
				city.Attributes[k] = attrValue(v)
			}
			s.CreateCity(ctx, city)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "city name")
	cmd.Flags().StringVar(&country, "country", "", "country")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "extra attribute as key=value; JSON values are decoded")
	cmd.Flags().Int64Var(&id, "id", 0, "explicit id (defaults to the current time in milliseconds)")
	return cmd
}

// withSync builds a synchronizer (which loads the collection), runs op and
// prints the final state.
func (a *app) withSync(op func(ctx context.Context, s *citysync.Synchronizer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if a.baseURL == "" {
			return errors.New("--base-url is required")
		}
		mode := "production"
		if a.verbose {
			mode = "development"
		}
		logger := appLogger.New(a.errOut, mode)

		store, err := a.newStore(a.baseURL, a.auth, a.timeout, logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		s := citysync.New(ctx, store, logger, citysync.WithOperationTimeout(a.timeout))
		if err := op(ctx, s, args); err != nil {
			return err
		}

		st := s.State()
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
		if st.Error != "" {
			return errRejected
		}
		return nil
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid city id %q", s)
	}
	return id, nil
}

// attrValue decodes v as JSON when it is valid JSON and keeps it as a string otherwise.
func attrValue(v string) any {
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		return decoded
	}
	return v
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
