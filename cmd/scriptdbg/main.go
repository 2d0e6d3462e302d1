// Package main is the entry point for the scriptdbg debug server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/scriptdbg/internal/config"
	"github.com/dshills/scriptdbg/internal/debuginfo"
	"github.com/dshills/scriptdbg/internal/luavm"
	"github.com/dshills/scriptdbg/internal/protocol"
	"github.com/dshills/scriptdbg/internal/session"
	"github.com/dshills/scriptdbg/internal/sourcemap"
	"github.com/dshills/scriptdbg/internal/symtab"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

type cliFlags struct {
	configPath   string
	listen       string
	debugInfo    string
	logFile      string
	breakOnStart bool
	showVersion  bool
}

func parseFlags() (cliFlags, []string) {
	var f cliFlags

	flag.StringVar(&f.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&f.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&f.listen, "listen", "", "TCP address to serve on (default: stdio)")
	flag.StringVar(&f.debugInfo, "debug-info", "", "Path to the debug information file")
	flag.StringVar(&f.logFile, "log", "", "Path to the log file (default: stderr)")
	flag.BoolVar(&f.breakOnStart, "break-on-start", false, "Pause at the first statement")
	flag.BoolVar(&f.showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <program.lua>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	return f, flag.Args()
}

func run() int {
	flags, args := parseFlags()

	if flags.showVersion {
		fmt.Printf("scriptdbg %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override the configuration file.
	if len(args) > 0 {
		cfg.Program = args[0]
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.debugInfo != "" {
		cfg.DebugInfo = flags.debugInfo
	}
	if flags.logFile != "" {
		cfg.LogFile = flags.logFile
	}
	if flags.breakOnStart {
		cfg.BreakOnStart = true
	}

	if cfg.Program == "" {
		fmt.Fprintln(os.Stderr, "Error: no program given")
		flag.Usage()
		return 1
	}

	logger, closeLog, err := newLogger(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	maps := sourcemap.NewRegistry()
	symbols := symtab.NewTable()
	if err := luavm.SeedLineMappings(maps, cfg.Program); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	srv := &server{cfg: cfg, maps: maps, symbols: symbols, logger: logger}

	if cfg.Listen != "" {
		return srv.serveTCP()
	}
	return srv.serveStdio()
}

// newLogger builds the session logger. Stdout is reserved for the
// protocol when serving over stdio, so logs go to stderr or a file.
func newLogger(path string) (*log.Logger, func(), error) {
	if path == "" {
		return log.New(os.Stderr, "scriptdbg ", log.LstdFlags), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return log.New(f, "scriptdbg ", log.LstdFlags), func() { f.Close() }, nil
}

type server struct {
	cfg     config.Config
	maps    *sourcemap.Registry
	symbols *symtab.Table
	logger  *log.Logger
}

// serveStdio runs one session over stdin/stdout.
func (s *server) serveStdio() int {
	t := protocol.NewStdioTransport()
	interruptOn(t)

	if err := s.runSession(t); err != nil {
		s.logger.Printf("session ended: %v", err)
	}
	return 0
}

// serveTCP accepts connections and runs one session per connection.
func (s *server) serveTCP() int {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: listen on %s: %v\n", s.cfg.Listen, err)
		return 1
	}
	defer ln.Close()
	s.logger.Printf("listening on %s", ln.Addr())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0
			}
			fmt.Fprintf(os.Stderr, "Error: accept: %v\n", err)
			return 1
		}

		t := protocol.NewSocketTransport(conn)
		if err := s.runSession(t); err != nil {
			s.logger.Printf("session %s ended: %v", conn.RemoteAddr(), err)
		}
	}
}

// runSession drives one debugging conversation over the transport.
func (s *server) runSession(t protocol.Transport) error {
	defer t.Close()

	interp := luavm.New(luavm.Options{Program: s.cfg.Program, Maps: s.maps})
	defer interp.Close()

	sess := session.New(session.Options{
		Config:      s.cfg,
		Maps:        s.maps,
		Symbols:     s.symbols,
		Interpreter: interp,
		Logger:      s.logger,
	})
	interp.SetStopCheck(sess.Breakpoints().StopsAt)

	if s.cfg.DebugInfo != "" {
		w, err := debuginfo.NewWatcher(s.cfg.DebugInfo)
		if err != nil {
			s.logger.Printf("watch debug info %s: %v", s.cfg.DebugInfo, err)
		} else {
			defer w.Close()
			go func() {
				for info := range w.Reloads() {
					info.Apply(s.maps, s.symbols, sess.Breakpoints())
					s.logger.Printf("debug info %s reloaded", s.cfg.DebugInfo)
				}
			}()
		}
	}

	s.logger.Printf("session %s: debugging %s", sess.ID(), s.cfg.Program)
	return sess.Serve(t)
}

// interruptOn closes the transport on SIGINT/SIGTERM so a stdio
// session shuts down cleanly.
func interruptOn(t protocol.Transport) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		t.Close()
	}()
}
