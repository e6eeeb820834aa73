// Command vee is the CLI front end for the package/build/install driver
// implemented by the root module: install a requirement, link it into an
// environment, or run a self-check.
//
// Grounded on the teacher's cmd/distri/distri.go: a verb table dispatched
// from flag.Args()[0], an InterruptibleContext for Ctrl-C handling, and a
// debug flag controlling %+v vs %v error formatting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/veepm/vee"
)

var debug = flag.Bool("debug", false, "format error messages with additional detail")

type verb struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]verb{
		"install": {installVerb},
		"link":    {linkVerb},
		"doctor":  {doctorVerb},
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	name, rest := args[0], args[1:]

	ctx, canc := vee.InterruptibleContext()
	defer canc()

	v, ok := verbs[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		printUsage()
		os.Exit(2)
	}
	if err := v.fn(ctx, rest); err != nil {
		if *debug {
			return xerrors.Errorf("%s: %+v", name, err)
		}
		return xerrors.Errorf("%s: %v", name, err)
	}
	vee.RunCleanups()
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "vee [-flags] <command> [-flags] <args>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\tinstall  - fetch, build, and install a requirement\n")
	fmt.Fprintf(os.Stderr, "\tlink     - link an already-installed requirement into an environment\n")
	fmt.Fprintf(os.Stderr, "\tdoctor   - self-check a VEE_HOME for structural problems\n")
}

func installVerb(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	url := fs.String("url", "", "requirement URL (git+https://..., pypi:name, or a bare http(s) URL)")
	name := fs.String("name", "", "package name")
	revision := fs.String("revision", "", "revision, tag, or version expression")
	env := fs.String("env", "", "environment name to link into after install")
	force := fs.Bool("force", false, "force re-fetch/re-install even if already present")
	home := fs.String("home", os.Getenv(vee.VEEHomeEnvVar), "path to the VEE home directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return xerrors.New("-url is required")
	}
	if *home == "" {
		return xerrors.New("no home directory: pass -home or set " + vee.VEEHomeEnvVar)
	}

	h, err := vee.Open(*home)
	if err != nil {
		return xerrors.Errorf("open home: %w", err)
	}
	defer h.Close()

	pkg, err := vee.NewPackage(h, vee.Requirement{
		URL:        vee.URL(*url),
		Name:       vee.Name(*name),
		Revision:   vee.Revision(*revision),
		ForceFetch: *force,
	})
	if err != nil {
		return xerrors.Errorf("create package: %w", err)
	}

	var linkEnv vee.Environment
	if *env != "" {
		linkEnv, err = vee.NewLinkedEnv(h, *env)
		if err != nil {
			return xerrors.Errorf("open environment %s: %w", *env, err)
		}
	}

	reg := vee.NewRegistry()
	if err := pkg.AutoInstall(ctx, reg, linkEnv, *force); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, statusLine(pkg.InstallPath()))
	return nil
}

func linkVerb(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	name := fs.String("name", "", "installed package name")
	revision := fs.String("revision", "", "installed package revision")
	env := fs.String("env", "", "environment name")
	force := fs.Bool("force", false, "replace an existing link")
	home := fs.String("home", os.Getenv(vee.VEEHomeEnvVar), "path to the VEE home directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" || *name == "" {
		return xerrors.New("-name and -env are required")
	}
	if *home == "" {
		return xerrors.New("no home directory: pass -home or set " + vee.VEEHomeEnvVar)
	}

	h, err := vee.Open(*home)
	if err != nil {
		return xerrors.Errorf("open home: %w", err)
	}
	defer h.Close()

	pkg, err := vee.NewPackage(h, vee.Requirement{Name: vee.Name(*name), Revision: vee.Revision(*revision)})
	if err != nil {
		return err
	}
	linkEnv, err := vee.NewLinkedEnv(h, *env)
	if err != nil {
		return xerrors.Errorf("open environment %s: %w", *env, err)
	}
	found, err := pkg.ResolveExisting(linkEnv)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("no installed package matches name=%s revision=%s", *name, *revision)
	}
	return pkg.Link(linkEnv, *force)
}

func doctorVerb(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	home := fs.String("home", os.Getenv(vee.VEEHomeEnvVar), "path to the VEE home directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *home == "" {
		return xerrors.New("no home directory: pass -home or set " + vee.VEEHomeEnvVar)
	}
	h, err := vee.Open(*home)
	if err != nil {
		return xerrors.Errorf("open home: %w", err)
	}
	defer h.Close()

	problems := h.Doctor()
	if len(problems) == 0 {
		fmt.Fprintln(os.Stdout, "ok")
		return nil
	}
	for _, p := range problems {
		fmt.Fprintln(os.Stderr, p)
	}
	return xerrors.Errorf("%d problem(s) found", len(problems))
}

// statusLine renders plainly when stdout isn't a terminal, matching how
// the teacher's CLI avoids coloring piped output.
func statusLine(installPath string) string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "installed -> " + installPath
	}
	return installPath
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
