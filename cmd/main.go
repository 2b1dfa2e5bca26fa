package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/server"
	"github.com/richard-senior/podds/pkg/transport"
)

const usage = `usage: podds <command> [flags]

commands:
  serve                 answer JSON-RPC tool calls on stdin/stdout
  predict               predict a fixture from a features JSON file
  record                record a final score
  train                 train the models from a JSON file of labelled matches
  recommend-weights     propose (and optionally apply) new ensemble weights
  validate-calibration  fit (and optionally apply) a calibration temperature

every command accepts -config <yaml> and -v (log to stderr as well as the log file)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "predict":
		err = runPredict(args)
	case "record":
		err = runRecord(args)
	case "train":
		err = runTrain(args)
	case "recommend-weights":
		err = runRecommendWeights(args)
	case "validate-calibration":
		err = runValidateCalibration(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command
type commonFlags struct {
	configPath string
	verbose    bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "yaml config file (defaults to $PODDS_CONFIG)")
	fs.BoolVar(&c.verbose, "v", false, "log to stderr as well as the log file")
	return fs, c
}

// openEngine loads the config, points logging at the configured file and builds the engine.
// stdout carries results only, so console logging goes to stderr.
func openEngine(c *commonFlags) (*podds.Engine, error) {
	config, err := podds.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	output := 'f'
	if c.verbose {
		output = 'b'
	}
	if err := logger.SetLogOutput(output, config.LogPath); err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(config.LogLevel)
	if err != nil {
		logger.Warn("Ignoring log level", config.LogLevel, err)
	} else {
		logger.SetLevel(level)
	}
	logger.SetShowDateTime(true)
	logger.Info("Using assets in", config.AssetsPath)
	return podds.NewEngine(config)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(args []string) error {
	fs, c := newFlagSet("serve")
	fs.Parse(args)
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	s := server.NewServer(transport.NewStdioTransport(), engine)
	err = s.Start()
	logger.Info("podds server shutting down")
	return err
}

func runPredict(args []string) error {
	fs, c := newFlagSet("predict")
	featuresPath := fs.String("features", "-", "features JSON file, - for stdin")
	fixtureID := fs.String("fixture", "", "log the prediction under this fixture id")
	seed := fs.Int64("seed", 0, "monte carlo seed, 0 uses the configured one")
	fs.Parse(args)

	var data []byte
	var err error
	if *featuresPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*featuresPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read features: %w", err)
	}
	features, err := podds.ParseFeatures(data)
	if err != nil {
		return err
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()
	if *seed != 0 {
		engine.Predictor.Simulator().Seed = *seed
	}
	p, err := engine.Predict(features, *fixtureID)
	if p != nil {
		if perr := printJSON(p); perr != nil {
			return perr
		}
	}
	return err
}

func runRecord(args []string) error {
	fs, c := newFlagSet("record")
	in := podds.ResultInput{}
	fs.StringVar(&in.FixtureID, "fixture", "", "fixture id the prediction was logged under")
	fs.IntVar(&in.HomeGoals, "home-goals", -1, "home side's goals")
	fs.IntVar(&in.AwayGoals, "away-goals", -1, "away side's goals")
	fs.StringVar(&in.HomeTeam, "home", "", "home team id, needed when no prediction was logged")
	fs.StringVar(&in.AwayTeam, "away", "", "away team id, needed when no prediction was logged")
	date := fs.String("date", "", "match date YYYY-MM-DD, defaults to today")
	fs.Parse(args)

	if in.FixtureID == "" || in.HomeGoals < 0 || in.AwayGoals < 0 {
		fs.Usage()
		return fmt.Errorf("-fixture, -home-goals and -away-goals are required")
	}
	if *date != "" {
		d, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("-date must be YYYY-MM-DD: %w", err)
		}
		in.Date = d
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()
	out, err := engine.RecordResult(in)
	if out != nil {
		if perr := printJSON(out); perr != nil {
			return perr
		}
	}
	return err
}

func runTrain(args []string) error {
	fs, c := newFlagSet("train")
	samplesPath := fs.String("samples", "", "JSON file of labelled matches")
	applyCalibration := fs.Bool("apply-calibration", false, "make the fitted temperature live when it improves the brier score")
	replayElo := fs.Bool("replay-elo", false, "also apply the matches to the elo ratings in date order")
	fs.Parse(args)
	if *samplesPath == "" {
		fs.Usage()
		return fmt.Errorf("-samples is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	samples, err := podds.LoadTrainingSamples(*samplesPath)
	if err != nil {
		return err
	}
	start := time.Now()
	logger.Info("Training on", humanize.Comma(int64(len(samples))), "samples")
	report, err := engine.Train(samples, *applyCalibration, *replayElo)
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	logger.Info("Training finished, started", humanize.Time(start))
	return err
}

func runRecommendWeights(args []string) error {
	fs, c := newFlagSet("recommend-weights")
	apply := fs.Bool("apply", false, "write the proposal to the weights file")
	fs.Parse(args)

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()
	update, err := engine.RecommendWeights(*apply)
	if err != nil {
		return err
	}
	return printJSON(update)
}

func runValidateCalibration(args []string) error {
	fs, c := newFlagSet("validate-calibration")
	apply := fs.Bool("apply", false, "make the fitted temperature live when it passes")
	fs.Parse(args)

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()
	report, err := engine.ValidateCalibration(*apply)
	if err != nil {
		return err
	}
	return printJSON(report)
}
