package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/marcelog/FastPAGI/fastpagi"
	"github.com/marcelog/FastPAGI/fastpagi/app"
	"github.com/marcelog/FastPAGI/fastpagi/journal"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	stopTimeout = 10 * time.Second
	tailLines   = 20
)

func init() {
	flag.DurationVar(&stopTimeout, "t", stopTimeout, "how long stop waits for the supervisor to exit")
	flag.IntVar(&tailLines, "n", tailLines, "number of journal events to print")
	flag.Usage = func() {
		f := func(f string, v ...interface{}) {
			fmt.Fprintf(flag.CommandLine.Output(), f, v...)
		}

		name := filepath.Base(os.Args[0])

		f("Usage:\n")
		f("  %s <config>          run the supervisor\n", name)
		f("  %s stop <config>     stop a running supervisor\n", name)
		f("  %s journal <config>  print the latest journal events\n", name)
		f("\n")
		f("Applications: %v\n", app.Classes())
		f("\n")
		f("Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
}

func main() {
	var err error
	switch flag.Arg(0) {
	case fastpagi.WorkerCommand:
		os.Exit(app.ServeEnv())
	case "stop":
		err = stop(configArg(1))
	case "journal":
		err = printJournal(configArg(1))
	case "":
		flag.Usage()
		os.Exit(fastpagi.ExitCode(fastpagi.ErrConfig))
	default:
		err = start(flag.Arg(0))
	}

	if err != nil {
		log.Println("Error:", err)
		os.Exit(fastpagi.ExitCode(err))
	}
}

func configArg(i int) string {
	if flag.NArg() <= i {
		log.Println("Error: missing config file")
		flag.Usage()
		os.Exit(fastpagi.ExitCode(fastpagi.ErrConfig))
	}
	return flag.Arg(i)
}

func start(configPath string) error {
	cfg, err := fastpagi.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	journaler := fastpagi.Journaler(journal.NewHumanWriter("fastpagi", os.Stderr))

	if cfg.Server.Journal != "" {
		j, err := journal.NewFileLockJournaler(cfg.Server.Journal)
		if err != nil {
			if errors.Is(err, journal.ErrLockedElsewhere) {
				return errors.Wrapf(fastpagi.ErrAlreadyRunning, "journal %s is locked", cfg.Server.Journal)
			}
			return errors.Wrap(err, "failed to open journal")
		}
		defer j.Close()

		journaler = journal.MultiWriter(j, journaler)
	}

	launcher, err := fastpagi.NewProcessLauncher()
	if err != nil {
		return err
	}

	var metrics *fastpagi.Metrics
	if cfg.Server.Metrics != "" {
		metrics = fastpagi.NewMetrics()
	}

	s, err := fastpagi.Start(cfg, fastpagi.Options{
		Launcher:  launcher,
		Journaler: journaler,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fastpagi.TryWatchConfig(ctx, cfg.Path, journaler)

	if metrics != nil {
		srv, err := fastpagi.StartMetricsServer(cfg.Server.Metrics, metrics, journaler)
		if err != nil {
			// The supervisor works without it.
			journaler.Write(&fastpagi.EventWarning{
				Component: "metrics",
				Error:     err.Error(),
			})
		} else {
			defer srv.Stop()
		}
	}

	return s.Run(ctx)
}

func stop(configPath string) error {
	cfg, err := fastpagi.LoadConfig(configPath)
	if err != nil {
		return err
	}

	pid, err := fastpagi.ReadPidFile(cfg.Server.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Println("fastpagi is not running")
			return nil
		}
		return errors.Wrap(err, "failed to read pidfile")
	}

	locked, err := fastpagi.PidFileLocked(cfg.Server.PidFile)
	if err != nil {
		return err
	}
	if !locked {
		return errors.Errorf("stale pidfile %s: pid %d does not hold it", cfg.Server.PidFile, pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return errors.Wrapf(err, "failed to signal pid %d", pid)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); err == unix.ESRCH {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return errors.Errorf("pid %d still running after %v", pid, stopTimeout)
}

func printJournal(configPath string) error {
	cfg, err := fastpagi.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Server.Journal == "" {
		return errors.New("no server.journal configured")
	}

	entries, err := journal.Tail(cfg.Server.Journal, tailLines)
	if err != nil {
		return errors.Wrap(err, "failed to read journal")
	}

	for _, entry := range entries {
		line, err := journal.FormatEvent(entry.Time, entry.Event)
		if err != nil {
			return err
		}
		fmt.Println(line)
	}

	return nil
}
