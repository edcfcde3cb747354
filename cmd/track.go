package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/karansahani78/sattrack/common"
	"github.com/karansahani78/sattrack/config"
	"github.com/karansahani78/sattrack/ds"
	"github.com/karansahani78/sattrack/services/restclient"
	"github.com/spf13/cobra"
)

var (
	trackObserverLat float64
	trackObserverLon float64
	trackObserverAlt float64
	trackWindow      time.Duration
	trackStep        time.Duration
)

var trackCmd = &cobra.Command{
	Use:   "track <entity-id>",
	Short: "Fetch the current position (or a track window) for one satellite",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		entity := common.EntityID(args[0])
		client := restclient.New(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RestTimeout())
		defer cancel()

		if trackWindow > 0 {
			now := time.Now()
			positions, err := client.Track(ctx, entity, now, now.Add(trackWindow), trackStep)
			if err != nil {
				log.Fatalf("track fetch failed: %v", err)
			}
			for _, pos := range positions {
				fmt.Println(string(pos.Raw))
			}
			return
		}

		var obs *ds.Observer
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			obs = &ds.Observer{
				Latitude:  trackObserverLat,
				Longitude: trackObserverLon,
				Altitude:  trackObserverAlt,
			}
		}

		pos, err := client.CurrentPosition(ctx, entity, obs)
		if err != nil {
			log.Fatalf("position fetch failed: %v", err)
		}
		if pos == nil {
			fmt.Fprintln(os.Stderr, "no data yet for", entity)
			return
		}
		fmt.Println(string(pos.Raw))
	},
}

func init() {
	trackCmd.Flags().Float64Var(&trackObserverLat, "lat", 0, "observer latitude in degrees")
	trackCmd.Flags().Float64Var(&trackObserverLon, "lon", 0, "observer longitude in degrees")
	trackCmd.Flags().Float64Var(&trackObserverAlt, "alt", 0, "observer altitude in meters")
	trackCmd.Flags().DurationVar(&trackWindow, "window", 0, "fetch a track for this window instead of the current position")
	trackCmd.Flags().DurationVar(&trackStep, "step", time.Minute, "sampling interval for --window")
	rootCmd.AddCommand(trackCmd)
}
