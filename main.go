package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wstrace/internal/analysis"
	"wstrace/internal/artifacts"
	"wstrace/internal/behinder"
	"wstrace/internal/capture"
	"wstrace/internal/config"
	"wstrace/internal/logging"
	"wstrace/internal/pipeline"
	"wstrace/internal/reporting"
	"wstrace/internal/tshark"
	"wstrace/internal/tui"
)

var (
	app = kingpin.New("wstrace", "Recover encrypted web-shell traffic from packet captures.")

	configPath = app.Flag("config", "YAML configuration file.").Short('c').
			Envar("WSTRACE_CONFIG").String()
	verbosity = app.Flag("verbose", "More logging, repeat for trace.").Short('v').Counter()

	behinderCmd = app.Command("behinder", "Decrypt Behinder web-shell traffic in a capture.")

	flagsSet = map[string]*bool{}

	inputFlag    = setFlag(behinderCmd.Flag("input", "Capture file (pcap or pcapng).").Short('i'), "input").String()
	keyFlag      = setFlag(behinderCmd.Flag("key", "16-character key or 32 hex digits; discovered when omitted.").Short('k'), "key").String()
	outputFlag   = setFlag(behinderCmd.Flag("output", "Directory for recovered artifacts.").Short('o'), "output").String()
	loaderFlag   = setFlag(behinderCmd.Flag("loader", "Packet source: tshark or native."), "loader").Enum(config.LoaderTshark, config.LoaderNative)
	tsharkFlag   = setFlag(behinderCmd.Flag("tshark", "Path to the tshark binary."), "tshark").String()
	codecFlag    = setFlag(behinderCmd.Flag("codec", "Codec to try, in order; repeatable.").PlaceHolder("NAME"), "codec").Strings()
	workersFlag  = setFlag(behinderCmd.Flag("workers", "Flows processed in parallel."), "workers").Int()
	reportFlag   = setFlag(behinderCmd.Flag("report", "Write report.html into the output directory."), "report").Bool()
	progressFlag = setFlag(behinderCmd.Flag("progress", "Show live progress on a terminal."), "progress").Bool()

	codecsCmd = app.Command("codecs", "List the supported codecs.")
)

func setFlag(f *kingpin.FlagClause, name string) *kingpin.FlagClause {
	set := new(bool)
	flagsSet[name] = set
	return f.IsSetByUser(set)
}

func isSet(name string) bool { return *flagsSet[name] }

func main() {
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch cmd {
	case codecsCmd.FullCommand():
		listCodecs()
	case behinderCmd.FullCommand():
		os.Exit(runBehinder())
	}
}

func listCodecs() {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Codec", "Scheme")
	for _, name := range behinder.Names() {
		t.Row(name, behinder.Describe(name))
	}
	fmt.Println(t.Render())
}

// loadConfig resolves settings: defaults, file, environment, then flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if isSet("input") {
		cfg.Input = *inputFlag
	}
	if isSet("key") {
		cfg.Key = *keyFlag
	}
	if isSet("output") {
		cfg.Output = *outputFlag
	}
	if isSet("loader") {
		cfg.Loader = *loaderFlag
	}
	if isSet("tshark") {
		cfg.Tshark = *tsharkFlag
	}
	if isSet("codec") {
		cfg.Codecs = *codecFlag
	}
	if isSet("workers") {
		cfg.Workers = *workersFlag
	}
	if isSet("report") {
		cfg.Report = *reportFlag
	}
	if isSet("progress") {
		cfg.Progress = *progressFlag
	}
	return cfg, cfg.Validate()
}

func runBehinder() int {
	cfg, err := loadConfig()
	if err != nil {
		app.Errorf("%v", err)
		return 2
	}
	log, err := logging.NewLogger(logging.Verbosity(cfg.Log.Level, *verbosity), cfg.Log.Format)
	if err != nil {
		app.Errorf("%v", err)
		return 2
	}

	opts, loader, err := buildRun(cfg, log)
	if err != nil {
		app.Errorf("%v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res *pipeline.Result
	job := func(obs pipeline.Observer) error {
		o := opts
		o.Observer = obs
		var err error
		res, err = pipeline.Run(ctx, loader, o)
		return err
	}

	if cfg.Progress && isatty.IsTerminal(os.Stderr.Fd()) {
		// Log lines would tear the live view; replay them afterwards.
		var held bytes.Buffer
		log.SetOutput(&held)
		err = tui.Run(os.Stderr, cfg.Input, opts.Stats, cancel, job)
		log.SetOutput(os.Stderr)
		_, _ = io.Copy(os.Stderr, &held)
	} else {
		err = job(nil)
	}
	if err != nil {
		var rerr *capture.ReadError
		if errors.As(err, &rerr) {
			log.WithField("kind", string(rerr.Kind())).Error(err.Error())
		} else {
			log.WithError(err).Error("extraction failed")
		}
		return 1
	}

	info := reporting.RunInfo{Input: cfg.Input, Key: res.Key.Secret}
	fmt.Print(reporting.RenderSummary(res.Stats, info, cfg.Output))
	if cfg.Report {
		path, err := reporting.GenerateRunReport(res.Stats, info, cfg.Output)
		if err != nil {
			log.WithError(err).Warn("report not written")
		} else {
			log.WithField("path", path).Info("report written")
		}
	}
	return 0
}

func buildRun(cfg *config.Config, log *logrus.Logger) (pipeline.Options, capture.Loader, error) {
	codecs, err := behinder.Codecs(cfg.Codecs...)
	if err != nil {
		return pipeline.Options{}, nil, err
	}
	opts := pipeline.Options{
		Input:   cfg.Input,
		Codecs:  codecs,
		Workers: cfg.Workers,
		Writer:  artifacts.NewWriter(cfg.Output),
		Stats:   analysis.NewRunStats(),
		Log:     log,
	}
	if cfg.Key != "" {
		key, err := behinder.ParseKey(cfg.Key)
		if err != nil {
			return pipeline.Options{}, nil, err
		}
		opts.Key = &key
	}

	var loader capture.Loader
	switch cfg.Loader {
	case config.LoaderNative:
		loader = capture.NativeLoader{}
	default:
		loader = tshark.NewLoader(cfg.Tshark, log)
	}
	return opts, loader, nil
}
