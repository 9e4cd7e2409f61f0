package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	flag "github.com/spf13/pflag"

	"github.com/davio/pkg/davclient"
)

type command struct {
	name string
	args string
	help string
	run  func(ctx context.Context, e *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"ls", "[-l] <path>...", "list collections", cmdList},
		{"stat", "<path>", "show resource properties", cmdStat},
		{"exists", "<path>", "report whether a resource exists", cmdExists},
		{"mkdir", "[-p] <path>...", "create collections", cmdMkdir},
		{"rm", "<path>...", "delete resources", cmdRemove},
		{"mv", "[-f] <src> <dst>", "move a resource", cmdMove},
		{"cp", "[-f] <src> <dst>", "copy a resource", cmdCopy},
		{"get", "[--resume] [-P] <remote> [local|-]", "download a file or tree", cmdGet},
		{"put", "[-n] [-P] <local|-> <remote>", "upload a file or tree", cmdPut},
		{"df", "", "show storage quota", cmdFree},
		{"publish", "<path>", "create a public link", cmdPublish},
		{"unpublish", "<path>", "revoke a public link", cmdUnpublish},
		{"propget", "<path> <name>", "read a property ({namespace}local or local)", cmdPropGet},
		{"propset", "<path> <name> <value>", "set a property", cmdPropSet},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// flags parses subcommand flags and checks the positional count.
func flags(fs *flag.FlagSet, args []string, least, most int) ([]string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	rest := fs.Args()
	if len(rest) < least || (most >= 0 && len(rest) > most) {
		return nil, errUsage
	}
	return rest, nil
}

var dirColor = color.New(color.FgBlue, color.Bold).SprintFunc()

func cmdList(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	long := fs.BoolP("long", "l", false, "show size and modification time")
	paths, err := flags(fs, args, 0, -1)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	for i, p := range paths {
		entries, err := e.remote.List(ctx, p)
		if err != nil {
			return err
		}
		if len(paths) > 1 {
			if i > 0 {
				fmt.Fprintln(e.stdout)
			}
			fmt.Fprintf(e.stdout, "%s:\n", p)
		}
		for _, rp := range entries {
			name := rp.Name()
			if rp.IsCollection {
				name = dirColor(name + "/")
			}
			if !*long {
				fmt.Fprintln(e.stdout, name)
				continue
			}
			fmt.Fprintf(e.stdout, "%10s  %16s  %s\n", size(rp), modified(rp.ModifiedAt), name)
		}
	}
	return nil
}

func size(rp davclient.ResourceProperty) string {
	if rp.IsCollection || rp.Size == nil {
		return "-"
	}
	return humanize.IBytes(*rp.Size)
}

func modified(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func cmdStat(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("stat", flag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	rp, err := e.remote.Info(ctx, rest[0])
	if err != nil {
		return err
	}
	kind := "file"
	if rp.IsCollection {
		kind = "collection"
	}
	fmt.Fprintf(e.stdout, "path:     %s\n", rp.Path)
	fmt.Fprintf(e.stdout, "type:     %s\n", kind)
	fmt.Fprintf(e.stdout, "size:     %s\n", size(rp))
	fmt.Fprintf(e.stdout, "modified: %s\n", modified(rp.ModifiedAt))
	if !rp.CreatedAt.IsZero() {
		fmt.Fprintf(e.stdout, "created:  %s\n", modified(rp.CreatedAt))
	}
	if rp.ContentType != "" {
		fmt.Fprintf(e.stdout, "mime:     %s\n", rp.ContentType)
	}
	if rp.ETag != "" {
		fmt.Fprintf(e.stdout, "etag:     %s\n", rp.ETag)
	}
	return nil
}

func cmdExists(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("exists", flag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	ok, err := e.remote.Exists(ctx, rest[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, ok)
	return nil
}

func cmdMkdir(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ContinueOnError)
	parents := fs.BoolP("parents", "p", false, "create missing ancestors, no error if existing")
	paths, err := flags(fs, args, 1, -1)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if *parents {
			err = e.remote.MkdirAll(ctx, p)
		} else {
			err = e.remote.Mkdir(ctx, p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// cmdRemove deletes every argument and reports all failures together.
func cmdRemove(ctx context.Context, e *env, args []string) error {
	paths, err := flags(flag.NewFlagSet("rm", flag.ContinueOnError), args, 1, -1)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, p := range paths {
		if err := e.remote.Delete(ctx, p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func cmdMove(ctx context.Context, e *env, args []string) error {
	return relocate(ctx, "mv", args, e.remote.Move)
}

func cmdCopy(ctx context.Context, e *env, args []string) error {
	return relocate(ctx, "cp", args, e.remote.Copy)
}

func relocate(ctx context.Context, name string, args []string, op func(context.Context, string, string, bool) error) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "replace an existing destination")
	rest, err := flags(fs, args, 2, 2)
	if err != nil {
		return err
	}
	return op(ctx, rest[0], rest[1], *force)
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	resume := fs.Bool("resume", false, "continue a partial local file")
	progress := fs.BoolP("progress", "P", false, "report progress on stderr")
	rest, err := flags(fs, args, 1, 2)
	if err != nil {
		return err
	}
	remote := rest[0]
	local := path.Base(strings.TrimSuffix(remote, "/"))
	if len(rest) == 2 {
		local = rest[1]
	}
	opts := e.transferOptions(*progress)
	if local == "-" {
		_, err := e.remote.DownloadTo(ctx, remote, e.stdout, opts...)
		return err
	}
	if *resume {
		opts = append(opts, davclient.WithResume())
	}
	err = e.remote.Download(ctx, remote, local, opts...)
	if *progress {
		fmt.Fprintln(e.stderr)
	}
	return err
}

func cmdPut(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	noClobber := fs.BoolP("no-clobber", "n", false, "do not replace existing remote files")
	progress := fs.BoolP("progress", "P", false, "report progress on stderr")
	rest, err := flags(fs, args, 2, 2)
	if err != nil {
		return err
	}
	opts := append(e.transferOptions(*progress), davclient.WithOverwrite(!*noClobber))
	if rest[0] == "-" {
		err = e.remote.UploadFrom(ctx, os.Stdin, -1, rest[1], opts...)
	} else {
		err = e.remote.Upload(ctx, rest[0], rest[1], opts...)
	}
	if *progress {
		fmt.Fprintln(e.stderr)
	}
	return err
}

func (e *env) transferOptions(progress bool) []davclient.TransferOption {
	opts := []davclient.TransferOption{davclient.WithCancel(e.cancel)}
	if progress {
		opts = append(opts, davclient.WithProgress(e.reporter()))
	}
	return opts
}

// reporter redraws one status line on stderr, at most every 100ms.
func (e *env) reporter() davclient.ProgressFunc {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(p davclient.Progress) {
		mu.Lock()
		defer mu.Unlock()
		done := p.Total >= 0 && p.Transferred == p.Total
		if !done && time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()
		if p.Total < 0 {
			fmt.Fprintf(e.stderr, "\r%s", humanize.IBytes(uint64(p.Transferred)))
			return
		}
		fmt.Fprintf(e.stderr, "\r%s / %s (%.0f%%)",
			humanize.IBytes(uint64(p.Transferred)), humanize.IBytes(uint64(p.Total)), p.Fraction()*100)
	}
}

func cmdFree(ctx context.Context, e *env, args []string) error {
	if _, err := flags(flag.NewFlagSet("df", flag.ContinueOnError), args, 0, 0); err != nil {
		return err
	}
	q, err := e.remote.FreeSpace(ctx)
	if err != nil {
		return err
	}
	show := func(v *uint64) string {
		if v == nil {
			return "unknown"
		}
		return humanize.IBytes(*v)
	}
	fmt.Fprintf(e.stdout, "available: %s\n", show(q.Available))
	fmt.Fprintf(e.stdout, "used:      %s\n", show(q.Used))
	if total, ok := q.Total(); ok {
		fmt.Fprintf(e.stdout, "total:     %s\n", humanize.IBytes(total))
	}
	return nil
}

func cmdPublish(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("publish", flag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	link, err := e.remote.Publish(ctx, rest[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, link)
	return nil
}

func cmdUnpublish(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("unpublish", flag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	return e.remote.Unpublish(ctx, rest[0])
}

// propName reads Clark notation; a bare name is in the DAV: namespace.
func propName(s string) (davclient.PropName, error) {
	if !strings.HasPrefix(s, "{") {
		if s == "" {
			return davclient.PropName{}, errUsage
		}
		return davclient.DAVProp(s), nil
	}
	space, local, ok := strings.Cut(s[1:], "}")
	if !ok || local == "" {
		return davclient.PropName{}, fmt.Errorf("%w: bad property name %q", errUsage, s)
	}
	return davclient.PropName{Space: space, Local: local}, nil
}

func cmdPropGet(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("propget", flag.ContinueOnError), args, 2, 2)
	if err != nil {
		return err
	}
	name, err := propName(rest[1])
	if err != nil {
		return err
	}
	value, ok, err := e.remote.GetProperty(ctx, rest[0], name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: property %s not set", rest[0], name)
	}
	fmt.Fprintln(e.stdout, value)
	return nil
}

func cmdPropSet(ctx context.Context, e *env, args []string) error {
	rest, err := flags(flag.NewFlagSet("propset", flag.ContinueOnError), args, 3, 3)
	if err != nil {
		return err
	}
	name, err := propName(rest[1])
	if err != nil {
		return err
	}
	return e.remote.SetProperty(ctx, rest[0], name, rest[2])
}
