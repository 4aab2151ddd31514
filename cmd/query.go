package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/query"
	"github.com/sells-group/geo-catalog/internal/render"
)

// stdoutPrefix as --output writes text formats to stdout.
const stdoutPrefix = "-"

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the catalog",
	Long: "Runs one query action (stats, dataset, system, box, nearby, all) and renders the result " +
		"as json, csv, map, geojson, xlsx or shp. --output is a file prefix; the format adds the extension.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := queryRequest(cmd)
		if err != nil {
			return err
		}
		formatName, _ := cmd.Flags().GetString("format")
		format, err := render.ParseFormat(formatName)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := query.NewEngine(st, cfg.Query.DefaultLimit)
		res, err := engine.Run(ctx, req)
		if err != nil {
			return err
		}
		return writeQueryResult(cmd.OutOrStdout(), res, format, output)
	},
}

// actionParams lists the flags an action cannot run without.
var actionParams = map[query.Action][]string{
	query.ActionDataset: {"dataset-id"},
	query.ActionSystem:  {"system-name"},
	query.ActionBox:     {"west", "east", "north", "south"},
	query.ActionNearby:  {"lat", "lng"},
}

// queryRequest builds a request from the query flags. An unset --limit
// defers to the configured default; an unset --distance uses the configured
// default radius.
func queryRequest(cmd *cobra.Command) (query.Request, error) {
	flags := cmd.Flags()

	actionName, _ := flags.GetString("action")
	action, err := query.ParseAction(actionName)
	if err != nil {
		return query.Request{}, err
	}
	for _, name := range actionParams[action] {
		if !flags.Changed(name) {
			return query.Request{}, &query.Error{Field: name, Message: "--" + name + " is required for action " + string(action)}
		}
	}

	req := query.Request{Action: action}
	req.DatasetID, _ = flags.GetString("dataset-id")
	req.System, _ = flags.GetString("system-name")
	req.West, _ = flags.GetFloat64("west")
	req.East, _ = flags.GetFloat64("east")
	req.North, _ = flags.GetFloat64("north")
	req.South, _ = flags.GetFloat64("south")
	req.Latitude, _ = flags.GetFloat64("lat")
	req.Longitude, _ = flags.GetFloat64("lng")

	req.Distance = query.DefaultDistance
	if cfg != nil && cfg.Query.DefaultDistance > 0 {
		req.Distance = cfg.Query.DefaultDistance
	}
	if flags.Changed("distance") {
		req.Distance, _ = flags.GetFloat64("distance")
	}
	if flags.Changed("limit") {
		limit, _ := flags.GetInt("limit")
		req.Limit = &limit
	}
	return req, nil
}

// writeQueryResult renders res. Stats always print as JSON to out and are
// also saved when the format supports them; hits go to the output file, or
// to out when output is "-".
func writeQueryResult(out io.Writer, res *query.Result, format render.Format, output string) error {
	log := zap.L().With(zap.String("component", "query"))

	if res.Stats != nil {
		statsFormat := format == render.FormatJSON || format == render.FormatCSV
		if output == stdoutPrefix && statsFormat {
			return render.Stats(out, format, res.Stats)
		}
		if err := render.StatsJSON(out, res.Stats); err != nil {
			return err
		}
		if output == stdoutPrefix {
			return nil
		}
		if !statsFormat {
			log.Warn("statistics not saved: format holds records only", zap.String("format", string(format)))
			return nil
		}
		path, err := render.StatsToFile(output, format, res.Stats)
		if err != nil {
			return err
		}
		log.Info("statistics saved", zap.String("path", path))
		return nil
	}

	if output == stdoutPrefix {
		if !format.Text() {
			return eris.Errorf("query: format %s cannot be written to stdout", format)
		}
		return render.Hits(out, format, res.Hits)
	}
	path, err := render.HitsToFile(output, format, res.Hits)
	if err != nil {
		return err
	}
	log.Info("results saved", zap.String("path", path), zap.Int("count", len(res.Hits)))
	return nil
}

// addQueryFlags registers the query flags on cmd.
func addQueryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("action", "", "query action: stats, dataset, system, box, nearby or all")
	f.Float64("west", 0, "western longitude of the box")
	f.Float64("east", 0, "eastern longitude of the box (west > east crosses the antimeridian)")
	f.Float64("north", 0, "northern latitude of the box")
	f.Float64("south", 0, "southern latitude of the box")
	f.Float64("lat", 0, "latitude of the nearby center")
	f.Float64("lng", 0, "longitude of the nearby center")
	f.Float64("distance", query.DefaultDistance, "nearby radius in meters (default from config)")
	f.String("dataset-id", "", "dataset id for the dataset action")
	f.String("system-name", "", "system name; required for the system action, narrows the others")
	f.String("format", string(render.FormatJSON), "output format: json, csv, map, geojson, xlsx or shp")
	f.String("output", "output", `output file prefix, or "-" for stdout`)
	f.Int("limit", query.DefaultLimit, "maximum number of results; 0 for no limit (default from config)")
}

func init() {
	addQueryFlags(queryCmd)
	_ = queryCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(queryCmd)
}
