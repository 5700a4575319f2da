package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		sources     []string
		debounce    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch topology sources and re-plan on change",
		Long: `Watch monitors the topology source files and recomputes the plan whenever
they change. Rapid bursts of writes are coalesced by the debounce window.
The command runs until interrupted.`,
		Example: `  # Re-plan on every topology edit
  gw watch -f topology/

  # Expose plan metrics while watching
  gw watch -f topology/ --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(sources) == 0 {
				return fmt.Errorf("no topology sources given (use -f)")
			}

			var metrics *telemetry.Metrics
			if metricsAddr != "" {
				m, err := telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:       true,
					ListenAddress: metricsAddr,
					Path:          "/metrics",
					Namespace:     "groundwork",
				})
				if err != nil {
					return err
				}
				if err := m.StartMetricsServer(); err != nil {
					return err
				}
				metrics = m
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			for _, source := range sources {
				info, err := os.Stat(source)
				if err != nil {
					return err
				}
				dir := source
				if !info.IsDir() {
					dir = filepath.Dir(source)
				}
				if err := watcher.Add(dir); err != nil {
					return err
				}
			}

			replan := func() {
				plan, err := watchPlan(cmd, sources, metrics)
				if err != nil {
					rootLogger.Error().Err(err).Msg("re-plan failed")
					return
				}
				fmt.Printf("[%s] ", time.Now().Format(time.TimeOnly))
				if plan.Empty() {
					fmt.Println("No changes. Observed state matches the topology.")
					return
				}
				printPlanSummary(plan)
			}

			fmt.Printf("Watching %d source(s). Press Ctrl-C to stop.\n", len(sources))
			replan()

			var timer *time.Timer
			pending := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				case <-pending:
					replan()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					rootLogger.Warn().Err(err).Msg("watch error")
				}
			}
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory (repeatable)")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before re-planning after a change")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.MarkFlagRequired("file")

	return cmd
}

// watchPlan evaluates the sources and computes a fresh plan against the
// current observed state.
func watchPlan(cmd *cobra.Command, sources []string, metrics *telemetry.Metrics) (*engine.Plan, error) {
	ctx := cmd.Context()

	topo, err := loadTopology(ctx, sources)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cmd, topo)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	registry, err := buildRegistry(ctx)
	if err != nil {
		return nil, err
	}
	defer registry.Close(ctx)

	plan, err := computePlan(cmd, store, registry, topo)
	if err != nil {
		return nil, err
	}

	if metrics != nil {
		counts := make(map[engine.Kind]int)
		for _, resource := range topo.Resources {
			counts[resource.Kind]++
		}
		for kind, count := range counts {
			metrics.SetResourceCount(string(kind), "desired", float64(count))
		}
	}
	return plan, nil
}
