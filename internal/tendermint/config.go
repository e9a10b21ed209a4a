package tendermint

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// InitTendermint initializes a Tendermint home directory with config and
// genesis files by running `tendermint init`. It is a no-op when the home
// already has a config.
func InitTendermint(tmHome string) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}

	configFile := filepath.Join(tmHome, "config", "config.toml")
	if _, err := os.Stat(configFile); err == nil {
		return nil
	}

	cmd := exec.Command("tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "failed to initialize Tendermint")
	}
	return nil
}

// NodeCommand returns the command that starts a Tendermint node wired to
// the bmc ABCI socket.
//
//	cmd := tendermint.NodeCommand(tendermint.TendermintHome(), "unix://bmc.sock")
//	cmd.Start()
func NodeCommand(tmHome, socketAddr string) *exec.Cmd {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if socketAddr == "" {
		socketAddr = "unix://bmc.sock"
	}

	cmd := exec.Command("tendermint", "node",
		"--home", tmHome,
		"--proxy_app", socketAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// TendermintHome returns the default Tendermint home directory.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}
