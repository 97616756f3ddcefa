package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/js-bridge/bridge"
	"github.com/wippyai/js-bridge/config"
	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/module"
	"github.com/wippyai/js-bridge/value"
)

// listFlag collects repeated flag values.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	*l = append(*l, s)
	return nil
}

type options struct {
	configFile  string
	declFile    string
	call        string
	metricsAddr string
	modules     listFlag
	args        listFlag
	list        bool
	interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Config file (yaml, json or toml)")
	flag.StringVar(&opts.declFile, "decl", "", "Declarations file")
	flag.StringVar(&opts.call, "call", "", "Function to call as module.name")
	flag.StringVar(&opts.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.Var(&opts.modules, "module", "Module to load as name=path (.js or .wasm), repeatable")
	flag.Var(&opts.args, "arg", "Argument for -call, repeatable")
	flag.BoolVar(&opts.list, "list", false, "List modules and declared functions and exit")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if len(opts.modules) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: jsbridge -module name=file.js [-decl decls.txt] -call module.name [-arg v ...]")
		fmt.Fprintln(os.Stderr, "       jsbridge -module name=file.wasm -list")
		fmt.Fprintln(os.Stderr, "       jsbridge -module name=file.js -decl decls.txt -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx := context.Background()

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.interactive {
		// Log lines would tear the alternate screen.
		cfg.Log.Level = "error"
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	bopts := []bridge.Option{bridge.WithConfig(cfg), bridge.WithLogger(log)}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		bopts = append(bopts, bridge.WithRegisterer(reg))
		srv := serveMetrics(opts.metricsAddr, reg, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	b, err := bridge.New(ctx, bopts...)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	defer b.Close(ctx)

	if opts.declFile != "" {
		text, err := os.ReadFile(opts.declFile)
		if err != nil {
			return fmt.Errorf("read declarations: %w", err)
		}
		if err := b.DeclareText(string(text), dispatch.TargetHost); err != nil {
			return err
		}
	}

	for _, m := range opts.modules {
		if err := loadModule(ctx, b, m); err != nil {
			return err
		}
	}

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("interactive mode needs a terminal")
		}
		return runInteractive(ctx, b)
	}

	if opts.list || opts.call == "" {
		printListing(b)
		return nil
	}

	mod, name, ok := strings.Cut(opts.call, ".")
	if !ok {
		return fmt.Errorf("call %q: want module.name", opts.call)
	}
	sig, ok := lookup(b, mod, name)
	if !ok {
		return fmt.Errorf("%s.%s is not declared", mod, name)
	}
	args := make([]value.Value, len(opts.args))
	for i, raw := range opts.args {
		v, err := parseArg(raw, sig.Param(i))
		if err != nil {
			return fmt.Errorf("arg%d: %w", i, err)
		}
		args[i] = v
	}

	result, err := callAndAwait(ctx, b, sig, args)
	if err != nil {
		return err
	}
	if result.IsAbsent() {
		fmt.Println("(no result)")
	} else {
		fmt.Println(result)
	}
	return nil
}

// loadModule loads name=path, choosing the module kind by extension. WebAssembly
// exports are declared from their own types.
func loadModule(ctx context.Context, b *bridge.Bridge, arg string) error {
	name, path, ok := strings.Cut(arg, "=")
	if !ok {
		path = arg
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if filepath.Ext(path) != ".wasm" {
		return b.LoadModule(ctx, name, module.File(path))
	}
	if err := b.LoadModule(ctx, name, module.WASMFile(path)); err != nil {
		return err
	}
	_, err := b.DeclareExports(name)
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

func printListing(b *bridge.Bridge) {
	fmt.Printf("Modules:\n")
	for _, info := range b.Modules() {
		fmt.Printf("  %s (%s) %s\n", info.Name, info.Kind, info.Origin)
		if len(info.Functions) > 0 {
			fmt.Printf("    exports: %s\n", strings.Join(info.Functions, ", "))
		}
	}
	fmt.Printf("\nDeclared functions:\n")
	for _, sig := range b.Signatures() {
		fmt.Printf("  %s\n", sig)
	}
}

func lookup(b *bridge.Bridge, mod, name string) (*dispatch.Signature, bool) {
	for _, sig := range b.Signatures() {
		if sig.Module == mod && sig.Name == name {
			return sig, true
		}
	}
	return nil, false
}

// callAndAwait invokes sig and waits for a pending result.
func callAndAwait(ctx context.Context, b *bridge.Bridge, sig *dispatch.Signature, args []value.Value) (value.Value, error) {
	v, err := b.Invoke(ctx, sig.Module, sig.Name, args...)
	if err != nil {
		return value.Value{}, err
	}
	if v.Tag() == value.TagPending {
		return b.Await(ctx, v)
	}
	return v, nil
}
