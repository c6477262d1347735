package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/remote"
	"github.com/standardbeagle/tabcon/internal/value"
)

var startCmd = &cobra.Command{
	Use:   "start [flags] -- <command> [args...]",
	Short: "Start a console and take it over",
	Long: `Start a console process, inject the agent and control it until exit.

Examples:
  tabcon start -- cmd.exe
  tabcon start --dir C:\src --title build -- cmd.exe /k make.bat
  tabcon start --env GOFLAGS=-v --alias cmd.exe:ll="dir /w" -- cmd.exe`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

var attachCmd = &cobra.Command{
	Use:   "attach <pid>",
	Short: "Take over a running console",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

var cloneCmd = &cobra.Command{
	Use:   "clone [flags] -- <command> [args...]",
	Short: "Start a console, then a second one seeded from the first",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClone,
}

var stateCmd = &cobra.Command{
	Use:   "state <pid>",
	Short: "Print the state of a running console and detach",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func init() {
	addStartFlags(startCmd)
	addStartFlags(cloneCmd)
}

func addStartFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", "", "Working directory")
	cmd.Flags().String("title", "", "Console title")
	cmd.Flags().StringArray("env", nil, "Environment override NAME=VALUE (repeatable)")
	cmd.Flags().StringArray("alias", nil, "Console alias EXE:NAME=TARGET (repeatable)")
}

// startInfo builds the start request from the command line.
func startInfo(cmd *cobra.Command, args []string) (value.Object, error) {
	info := value.NewObject()
	info.SetString(protocol.KeyExecutable, args[0])
	info.SetString(protocol.KeyArguments, shellquote.Join(args[1:]...))

	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		info.SetString(protocol.KeyDirectory, dir)
	}
	if title, _ := cmd.Flags().GetString("title"); title != "" {
		info.SetString(protocol.KeyTitle, title)
	}

	// The environment replaces the whole block, so overrides are laid
	// over ours.
	if overrides, _ := cmd.Flags().GetStringArray("env"); len(overrides) > 0 {
		env := make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				env[k] = v
			}
		}
		for _, kv := range overrides {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return value.Object{}, fmt.Errorf("bad --env %q, want NAME=VALUE", kv)
			}
			env[k] = v
		}
		info.Set(protocol.KeyEnvironment, value.ObjectValue(value.FromStringMap(env)))
	}

	if defs, _ := cmd.Flags().GetStringArray("alias"); len(defs) > 0 {
		aliases := value.NewObject()
		for _, def := range defs {
			exe, rest, ok := strings.Cut(def, ":")
			name, target, ok2 := strings.Cut(rest, "=")
			if !ok || !ok2 || exe == "" || name == "" {
				return value.Object{}, fmt.Errorf("bad --alias %q, want EXE:NAME=TARGET", def)
			}
			forExe := value.NewObject()
			if v := aliases.Get(exe); v.Kind() == value.KindObject {
				forExe = v.Object()
			}
			forExe.SetString(name, target)
			aliases.Set(exe, value.ObjectValue(forExe))
		}
		info.Set(protocol.KeyAliases, value.ObjectValue(aliases))
	}
	return info, nil
}

func parsePID(arg string) (uint32, error) {
	pid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || pid == 0 {
		return 0, fmt.Errorf("bad pid %q", arg)
	}
	return uint32(pid), nil
}

// startTab starts a console from info and waits for its agent.
func (s *session) startTab(info value.Object) (*remote.Process, error) {
	p := s.manager.New()
	s.host.add(p)
	if err := p.Start(info); err != nil {
		return nil, err
	}
	if err := s.waitConnected(p); err != nil {
		return nil, err
	}
	s.host.printf("%s: started pid %d", s.host.name(p), p.PID())
	return p, nil
}

// attachTab takes over the console with the given pid.
func (s *session) attachTab(pid uint32) (*remote.Process, error) {
	target, err := osproc.Open(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer target.Close()

	p := s.manager.New()
	s.host.add(p)
	if err := p.Attach(target); err != nil {
		return nil, err
	}
	if err := s.waitConnected(p); err != nil {
		return nil, err
	}
	s.host.printf("%s: attached pid %d", s.host.name(p), pid)
	return p, nil
}

// cloneTab starts a console seeded from src.
func (s *session) cloneTab(src *remote.Process) (*remote.Process, error) {
	p := s.manager.New()
	s.host.add(p)
	if err := p.Clone(src); err != nil {
		return nil, err
	}
	if err := s.waitConnected(p); err != nil {
		return nil, err
	}
	s.host.printf("%s: cloned from %s as pid %d", s.host.name(p), s.host.name(src), p.PID())
	return p, nil
}

func runStart(cmd *cobra.Command, args []string) (err error) {
	info, err := startInfo(cmd, args)
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, s.close()) }()

	if _, err := s.startTab(info); err != nil {
		return err
	}
	return s.interact()
}

func runAttach(cmd *cobra.Command, args []string) (err error) {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, s.close()) }()

	if _, err := s.attachTab(pid); err != nil {
		return err
	}
	return s.interact()
}

func runClone(cmd *cobra.Command, args []string) (err error) {
	info, err := startInfo(cmd, args)
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, s.close()) }()

	src, err := s.startTab(info)
	if err != nil {
		return err
	}
	if _, err := s.cloneTab(src); err != nil {
		return err
	}
	return s.interact()
}

func runState(cmd *cobra.Command, args []string) (err error) {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() { err = joinClose(err, s.close()) }()

	p, err := s.attachTab(pid)
	if err != nil {
		return err
	}
	state, err := p.GetState(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), value.WriteIndent(value.ObjectValue(state), "  "))

	// Leave the console as we found it.
	return s.onMain(p.Detach)
}

// joinClose keeps the command's error ahead of the shutdown error.
func joinClose(err, closeErr error) error {
	if err != nil {
		return err
	}
	return closeErr
}
