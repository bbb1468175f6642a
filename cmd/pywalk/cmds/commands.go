package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-delve/pywalk/pkg/config"
	"github.com/go-delve/pywalk/pkg/dump"
	"github.com/go-delve/pywalk/pkg/layout"
	"github.com/go-delve/pywalk/pkg/logflags"
	"github.com/go-delve/pywalk/pkg/objects"
	"github.com/go-delve/pywalk/pkg/remote"
	"github.com/go-delve/pywalk/pkg/remote/native"
	"github.com/go-delve/pywalk/pkg/stopexpr"
	"github.com/go-delve/pywalk/pkg/version"
	"github.com/go-delve/pywalk/pkg/walker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// layoutName is the layout used to decode objects.
	layoutName string
	// layoutFiles are additional layout files to load.
	layoutFiles []string

	maxNodes     int
	maxDepth     int
	maxStringLen int
	followTypes  bool
	// stopExpr is a Starlark stop expression.
	stopExpr string

	// format is the output format.
	format string
	// output is the output file, standard output if empty.
	output string
	// compress enables zstd compression of the output.
	compress bool
	// strict makes the command fail if any object could not be decoded.
	strict bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

// errFailedNodes is returned in strict mode when the walk recorded
// failures.
var errFailedNodes = errors.New("some objects could not be decoded")

const pywalkCommandLongDesc = `pywalk reconstructs the object graph of a running Python interpreter
by reading the memory of its process.

The target is never stopped and nothing is written to it: the result is a
best effort snapshot of the objects reachable from a root address. Objects
that can not be read, or whose memory does not look like the object it
should be, are reported and skipped.

The root address must be found by other means, for example by reading a
global variable with a debugger.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main pywalk root command.
	rootCommand = &cobra.Command{
		Use:           "pywalk",
		Short:         "pywalk dumps the objects of a running Python interpreter.",
		Long:          pywalkCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'pywalk help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'pywalk help log').")
	rootCommand.PersistentFlags().StringArrayVar(&layoutFiles, "layout-file", nil, "Load an additional layout file, can be repeated.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid address",
		Short: "Walk the objects of a running process.",
		Long: `Walk the objects reachable from address in the memory of the process pid.

The process keeps running while its memory is read. Reading the memory of
another process requires the same permissions as attaching a debugger to it.
`,
		Args: cobra.ExactArgs(2),
		RunE: attachCmd,
	}
	addWalkFlags(attachCommand.Flags())
	rootCommand.AddCommand(attachCommand)

	// 'image' subcommand.
	imageCommand := &cobra.Command{
		Use:   "image file base address",
		Short: "Walk the objects of a saved memory region.",
		Long: `Walk the objects reachable from address in a raw memory region saved to
file, for example with dd from /proc/<pid>/mem, that was mapped at base.
`,
		Args: cobra.ExactArgs(3),
		RunE: imageCmd,
	}
	addWalkFlags(imageCommand.Flags())
	rootCommand.AddCommand(imageCommand)

	// 'show' subcommand.
	showCommand := &cobra.Command{
		Use:   "show file",
		Short: "Print a saved walk.",
		Long:  "Print a walk saved with --format=yaml or --format=cbor, compressed or not.",
		Args:  cobra.ExactArgs(1),
		RunE:  showCmd,
	}
	addOutputFlags(showCommand.Flags())
	rootCommand.AddCommand(showCommand)

	// 'layouts' subcommand.
	layoutsCommand := &cobra.Command{
		Use:   "layouts [prefix]",
		Short: "List the available layouts.",
		Long:  "List the available layouts. With -v also list the type names each layout decodes.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  layoutsCmd,
	}
	layoutsCommand.Flags().BoolP("verbose", "v", false, "list type names")
	rootCommand.AddCommand(layoutsCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print or change the configuration.",
		Long: `Print the configuration, with the walk flags given on the command line
applied. With --save the result is written back to the configuration file,
and becomes the default for later walks.
`,
		Args: cobra.NoArgs,
		RunE: configCmd,
	}
	addLimitFlags(configCommand.Flags())
	addFormatFlag(configCommand.Flags())
	configCommand.Flags().Bool("save", false, "Save the configuration.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pywalk\n%s\n", version.PywalkVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	walker		Log the progress of walks and every object that failed
	memory		Log every read of the target's memory
	layout		Log loading and registering of layouts
	decode		Log recoverable inconsistencies found while decoding

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Help about the --stop flag.",
		Long: `The --stop flag takes a Starlark expression that is evaluated before each
object is visited. The walk ends as soon as it is true. The expression can use:

	visited		number of objects visited
	queued		number of objects waiting to be visited
	depth		distance from the root of the next object
	unreadable	number of objects that could not be read
	unsupported	number of objects that could not be decoded
	elapsed		seconds since the walk started

For example:

	pywalk attach --stop 'elapsed > 5 or unreadable > 100' 1234 0x7f2a10c3d0
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func addWalkFlags(fs *pflag.FlagSet) {
	addLimitFlags(fs)
	fs.BoolVar(&strict, "strict", false, "Exit with an error if any object could not be decoded.")
	addOutputFlags(fs)
}

func addLimitFlags(fs *pflag.FlagSet) {
	fs.StringVar(&layoutName, "layout", "", `Layout of the target interpreter (see 'pywalk layouts'), default `+layout.DefaultLayout+`.`)
	fs.IntVar(&maxNodes, "max-nodes", 0, "Maximum number of objects visited, 0 is unbounded.")
	fs.IntVar(&maxDepth, "max-depth", -1, "Maximum distance from the root that is followed, -1 is unbounded.")
	fs.IntVar(&maxStringLen, "max-string-len", 0, "Maximum number of characters read from a string, 0 reads all.")
	fs.BoolVar(&followTypes, "follow-types", false, "Also walk the type of every object.")
	fs.StringVar(&stopExpr, "stop", "", "Starlark expression ending the walk (see 'pywalk help stop').")
}

func addFormatFlag(fs *pflag.FlagSet) {
	fs.StringVar(&format, "format", "text", "Output format: text, yaml or cbor.")
}

func addOutputFlags(fs *pflag.FlagSet) {
	addFormatFlag(fs)
	fs.StringVarP(&output, "output", "o", "", "Write output to file instead of standard output.")
	fs.BoolVar(&compress, "compress", false, "Compress output with zstd.")
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// expandHome replaces a leading ~/ with the home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// loadLayoutFiles registers the layout files named by the configuration
// and the command line, in that order.
func loadLayoutFiles() error {
	for _, p := range append(append([]string{}, conf.LayoutFiles...), layoutFiles...) {
		if _, err := layout.LoadFile(expandHome(p)); err != nil {
			return err
		}
	}
	return nil
}

// loadLayout loads the layout files from the configuration and the command
// line and returns the selected layout.
func loadLayout(cmd *cobra.Command) (*layout.Descriptor, error) {
	if err := loadLayoutFiles(); err != nil {
		return nil, err
	}
	name := conf.Layout
	if cmd.Flags().Changed("layout") || name == "" {
		name = layoutName
	}
	if name == "" {
		name = layout.DefaultLayout
	}
	name = conf.ResolveLayout(name)
	desc, err := layout.Lookup(name)
	if errors.Is(err, layout.ErrUnknownLayout) {
		if candidates := layout.Complete(name); len(candidates) > 0 {
			return nil, fmt.Errorf("%w, did you mean one of: %s", err, strings.Join(candidates, ", "))
		}
	}
	return desc, err
}

// walkConfig builds the walk configuration: defaults, overridden by the
// configuration file, overridden by flags.
func walkConfig(cmd *cobra.Command) (walker.Config, error) {
	cfg := walker.DefaultConfig()
	if conf.MaxNodes != nil {
		cfg.MaxNodes = *conf.MaxNodes
	}
	if conf.MaxDepth != nil {
		cfg.MaxDepth = *conf.MaxDepth
	}
	if conf.MaxStringLen != nil {
		cfg.Limits.MaxStringLen = *conf.MaxStringLen
	}
	if conf.MaxSequenceLen != nil {
		cfg.Limits.MaxSequenceLen = *conf.MaxSequenceLen
	}
	if conf.MaxMapSlots != nil {
		cfg.Limits.MaxMapSlots = *conf.MaxMapSlots
	}
	cfg.FollowTypes = conf.FollowTypes
	src := conf.Stop

	fs := cmd.Flags()
	if fs.Changed("max-nodes") {
		cfg.MaxNodes = maxNodes
	}
	if fs.Changed("max-depth") {
		cfg.MaxDepth = maxDepth
	}
	if fs.Changed("max-string-len") {
		cfg.Limits.MaxStringLen = maxStringLen
	}
	if fs.Changed("follow-types") {
		cfg.FollowTypes = followTypes
	}
	if fs.Changed("stop") {
		src = stopExpr
	}
	if src != "" {
		e, err := stopexpr.Compile(src)
		if err != nil {
			return cfg, err
		}
		cfg.Stop = e.Predicate()
	}
	return cfg, nil
}

func outputOptions(cmd *cobra.Command) (dump.Options, error) {
	name := format
	if !cmd.Flags().Changed("format") && conf.Format != "" {
		name = conf.Format
	}
	f, err := dump.ParseFormat(name)
	if err != nil {
		return dump.Options{}, err
	}
	return dump.Options{Format: f, Compress: compress}, nil
}

// interruptible returns a stop predicate that becomes true on SIGINT, and
// a function to restore the default signal handling.
func interruptible(stop func(walker.Progress) bool) (func(walker.Progress) bool, func()) {
	var interrupted atomic.Bool
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, os.Interrupt)
	go func() {
		select {
		case <-ch:
			interrupted.Store(true)
		case <-done:
		}
	}()
	onInterrupt := func(walker.Progress) bool {
		return interrupted.Load()
	}
	return stopexpr.Any(stop, onInterrupt), func() {
		signal.Stop(ch)
		close(done)
	}
}

// execute walks mem from root and writes the result.
func execute(cmd *cobra.Command, mem remote.MemoryReader, root uint64) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	desc, err := loadLayout(cmd)
	if err != nil {
		return err
	}
	cfg, err := walkConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	var restore func()
	cfg.Stop, restore = interruptible(cfg.Stop)
	defer restore()

	g, err := walker.Walk(mem, desc, objects.Address{Addr: root}, cfg)
	if err != nil {
		return err
	}
	if err := writeSnapshot(cmd, dump.NewSnapshot(g), opts); err != nil {
		return err
	}
	if strict && g.Failed() {
		return fmt.Errorf("%w: %d failed", errFailedNodes, len(g.Failures()))
	}
	return nil
}

func writeSnapshot(cmd *cobra.Command, s *dump.Snapshot, opts dump.Options) (err error) {
	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, ferr := os.Create(output)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	} else if f, ok := w.(*os.File); ok && opts.Format == dump.FormatText && !opts.Compress {
		w, opts.Color = dump.Terminal(f)
	}
	return dump.Write(w, s, opts)
}

func attachCmd(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}
	root, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	p, err := native.Attach(pid)
	if err != nil {
		return err
	}
	defer p.Detach()
	return execute(cmd, p, root)
}

func imageCmd(cmd *cobra.Command, args []string) error {
	base, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	root, err := parseAddr(args[2])
	if err != nil {
		return err
	}
	img, err := remote.LoadImage(args[0], base)
	if err != nil {
		return err
	}
	return execute(cmd, img, root)
}

func showCmd(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	s, err := dump.Read(f)
	if err != nil {
		return err
	}
	opts, err := outputOptions(cmd)
	if err != nil {
		return err
	}
	return writeSnapshot(cmd, s, opts)
}

func layoutsCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()
	if err := loadLayoutFiles(); err != nil {
		return err
	}
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	for _, name := range layout.Complete(prefix) {
		d, err := layout.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d-bit %s\n", name, d.PtrSize()*8, d.ByteOrder())
		if verbose {
			for _, tn := range d.TypeNames() {
				k, _ := d.KindOf(tn)
				fmt.Fprintf(cmd.OutOrStdout(), "\t%s\t%v\n", tn, k)
			}
		}
	}
	aliases := make([]string, 0, len(conf.LayoutAliases))
	for alias := range conf.LayoutAliases {
		if strings.HasPrefix(alias, prefix) {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\talias of %s\n", alias, conf.LayoutAliases[alias])
	}
	return nil
}

// configCmd applies the walk flags that were set to the configuration,
// checks the result, prints it and optionally saves it.
func configCmd(cmd *cobra.Command, args []string) error {
	c := *conf
	fs := cmd.Flags()
	setInt := func(name string, v int, dst **int) {
		if fs.Changed(name) {
			*dst = &v
		}
	}
	setInt("max-nodes", maxNodes, &c.MaxNodes)
	setInt("max-depth", maxDepth, &c.MaxDepth)
	setInt("max-string-len", maxStringLen, &c.MaxStringLen)
	if fs.Changed("follow-types") {
		c.FollowTypes = followTypes
	}
	if fs.Changed("layout") {
		if _, err := loadLayout(cmd); err != nil {
			return err
		}
		c.Layout = layoutName
	}
	if fs.Changed("stop") {
		if _, err := stopexpr.Compile(stopExpr); err != nil {
			return err
		}
		c.Stop = stopExpr
	}
	if fs.Changed("format") {
		if _, err := dump.ParseFormat(format); err != nil {
			return err
		}
		c.Format = format
	}

	out, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	cmd.OutOrStdout().Write(out)
	if save, _ := fs.GetBool("save"); save {
		if err := config.SaveConfig(&c); err != nil {
			return err
		}
		conf = &c
	}
	return nil
}
