package cli

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"comfycli/internal/installer"
	"comfycli/internal/tui"
	"comfycli/internal/workspace"
)

var errInstallCancelled = errors.New("install cancelled")

func newInstallCmd(a *app) *cobra.Command {
	var (
		opts installer.Options
		gpus = map[installer.GPU]*bool{
			installer.GPUNvidia:   new(bool),
			installer.GPUAMD:      new(bool),
			installer.GPUMSeries:  new(bool),
			installer.GPUIntelArc: new(bool),
			installer.GPUCPU:      new(bool),
		}
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install ComfyUI into the workspace",
		Args:  cobra.NoArgs,
		Annotations: map[string]string{
			annotationWorkspace:   string(workspace.RequireInstallable),
			annotationDeferRecord: "",
			annotationLogFile:     "",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			for gpu, set := range gpus {
				if *set {
					opts.GPU = gpu
				}
			}
			return runInstall(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.URL, "url", installer.DefaultURL, "Git URL of the ComfyUI repository")
	flags.StringVar(&opts.ManagerURL, "manager-url", installer.DefaultManagerURL, "Git URL of the ComfyUI-Manager extension")
	flags.StringVar(&opts.Commit, "commit", "", "Commit or tag to check out after cloning")
	flags.BoolVar(&opts.Restore, "restore", false, "Reinstall dependencies of an existing installation")
	flags.BoolVar(&opts.SkipManager, "skip-manager", false, "Do not install ComfyUI-Manager")
	flags.BoolVar(&opts.SkipRequirements, "skip-requirement", false, "Do not install Python requirements")
	flags.BoolVar(&opts.SkipTorch, "skip-torch", false, "Do not install torch")
	flags.BoolVar(gpus[installer.GPUNvidia], "nvidia", false, "Install torch for NVIDIA GPUs")
	flags.BoolVar(gpus[installer.GPUAMD], "amd", false, "Install torch for AMD GPUs")
	flags.BoolVar(gpus[installer.GPUMSeries], "m-series", false, "Install torch for Apple silicon")
	flags.BoolVar(gpus[installer.GPUIntelArc], "intel-arc", false, "Install torch for Intel Arc GPUs")
	flags.BoolVar(gpus[installer.GPUCPU], "cpu", false, "Install the CPU build of torch")
	cmd.MarkFlagsMutuallyExclusive("nvidia", "amd", "m-series", "intel-arc", "cpu")
	cmd.MarkFlagsMutuallyExclusive("skip-torch", "nvidia", "amd", "m-series", "intel-arc", "cpu")

	return cmd
}

func runInstall(cmd *cobra.Command, a *app, opts installer.Options) error {
	out := cmd.OutOrStdout()
	interactive := !a.skipPrompt && a.stdinTerminal() &&
		tui.DetectMode(out, a.noProgress, a.jsonOutput) == tui.ModeTUI

	if interactive && opts.GPU == installer.GPUNone && !opts.SkipTorch {
		choice, err := tui.RunInstallSetup(cmd.InOrStdin(), out, tui.InstallSetupResult{
			GPU:         defaultGPU(runtime.GOOS, runtime.GOARCH),
			SkipManager: opts.SkipManager,
		})
		if err != nil {
			return err
		}
		if choice.Cancelled {
			return errInstallCancelled
		}
		opts.GPU = choice.GPU
		opts.SkipManager = choice.SkipManager
	}

	ctx, cancel := commandContext(cmd, installTimeout)
	defer cancel()

	in := a.newInstaller()
	root := a.res.Path
	a.logger.Info("installing", "workspace", root, "url", opts.URL, "gpu", opts.GPU)
	err := a.runSteps(cmd, "Installing ComfyUI into "+root, installer.Steps(), in, func() error {
		_, err := in.Install(ctx, root, opts)
		return err
	})
	if err != nil {
		return err
	}

	installed := workspace.Resolution{Path: root, Source: a.res.Source, Exists: true}
	if err := workspace.Record(a.store, installed); err != nil {
		return fmt.Errorf("record recent workspace: %w", err)
	}
	if !a.jsonOutput {
		fmt.Fprintf(out, "ComfyUI is installed at %s\n", root)
	}

	if a.store.DefaultWorkspace() == "" && !a.skipPrompt && a.stdinTerminal() {
		yes, err := confirm(cmd, "Set this workspace as the default?", true)
		if err != nil {
			return err
		}
		if yes {
			return a.store.SetDefaultWorkspace(root, "")
		}
	}
	return nil
}

func defaultGPU(goos, goarch string) installer.GPU {
	if goos == "darwin" && goarch == "arm64" {
		return installer.GPUMSeries
	}
	return installer.GPUNvidia
}
