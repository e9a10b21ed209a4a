// Command deployer builds the bmc binary and rolls it out to the validators
// of an inventory over ssh and rsync. Node state (ledger database, backups,
// signing key and Tendermint home) is never touched.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type hostResult struct {
	host     string
	duration time.Duration
	err      error
}

// deployer carries the settings shared by all hosts.
type deployer struct {
	keyPath    string
	binaryPath string
	docsDir    string
	version    string
	log        *zap.Logger
}

func main() {
	var (
		inventoryFlag string
		hostsFlag     string
		keyFlag       string
		binaryFlag    string
		parallelFlag  int
		skipBuild     bool
	)

	homeDir, _ := os.UserHomeDir()

	flag.StringVar(&inventoryFlag, "inventory", "validators.yaml", "YAML inventory of validators")
	flag.StringVar(&hostsFlag, "hosts", "all", "Comma-separated list of hosts or 'all'")
	flag.StringVar(&keyFlag, "key", filepath.Join(homeDir, ".ssh", "bmc-deploy.key"), "Path to SSH private key")
	flag.StringVar(&binaryFlag, "binary", "bmc", "Path for the compiled binary")
	flag.IntVar(&parallelFlag, "parallel", 2, "Number of hosts to deploy concurrently")
	flag.BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding the binary before deployment")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	inv, err := loadInventory(inventoryFlag)
	if err != nil {
		log.Fatal("load inventory", zap.Error(err))
	}
	validators := inv.selectValidators(hostsFlag)
	if len(validators) == 0 {
		log.Fatal("no hosts specified")
	}
	if parallelFlag < 1 {
		parallelFlag = 1
	}
	if parallelFlag > len(validators) {
		parallelFlag = len(validators)
	}

	for _, tool := range []string{"rsync", "ssh", "go"} {
		if err := ensureToolExists(tool); err != nil {
			log.Fatal("missing tool", zap.Error(err))
		}
	}
	if err := ensureFileExists(keyFlag); err != nil {
		log.Fatal("ssh key not accessible", zap.Error(err))
	}

	binaryPath, err := filepath.Abs(binaryFlag)
	if err != nil {
		log.Fatal("determine binary path", zap.Error(err))
	}
	docsDir, err := filepath.Abs("docs")
	if err != nil {
		log.Fatal("resolve docs directory", zap.Error(err))
	}

	if !skipBuild {
		if err := runLocal(log, "go", "run", "./cmd/docgen"); err != nil {
			log.Fatal("generate docs", zap.Error(err))
		}
		if err := runLocal(log, "go", "build", "-o", binaryPath, "."); err != nil {
			log.Fatal("build binary", zap.Error(err))
		}
	} else {
		log.Info("skipping build step (requested via --skip-build)")
	}

	version, err := localVersion()
	if err != nil {
		log.Warn("could not read local version, skipping version check", zap.Error(err))
	}

	d := &deployer{
		keyPath:    keyFlag,
		binaryPath: binaryPath,
		docsDir:    docsDir,
		version:    version,
		log:        log,
	}
	results := d.runDeployments(validators, parallelFlag)

	var failed int
	for _, r := range results {
		if r.err != nil {
			failed++
			log.Error("deployment failed", zap.String("host", r.host), zap.Duration("after", r.duration.Truncate(time.Millisecond)), zap.Error(r.err))
		} else {
			log.Info("deployment completed", zap.String("host", r.host), zap.Duration("took", r.duration.Truncate(time.Millisecond)))
		}
	}

	if failed > 0 {
		log.Fatal("deployment failed", zap.Int("hosts", failed))
	}
}

func ensureToolExists(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required tool %q not found in PATH", name)
	}
	return nil
}

func ensureFileExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func runLocal(log *zap.Logger, name string, args ...string) error {
	log.Info("running", zap.String("cmd", name+" "+strings.Join(args, " ")))
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// localVersion reads the version of the source tree from bmcctl, which is
// built from the same types.Version as the node.
func localVersion() (string, error) {
	out, err := exec.Command("go", "run", "./cmd/bmcctl", "--version").Output()
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", errors.New("empty version output")
	}
	return fields[len(fields)-1], nil
}

func (d *deployer) runDeployments(validators []Validator, parallel int) []hostResult {
	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, parallel)
		results = make([]hostResult, len(validators))
	)

	for idx, v := range validators {
		wg.Add(1)
		go func(i int, v Validator) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := d.deployHost(v)
			results[i] = hostResult{
				host:     v.Host,
				duration: time.Since(start),
				err:      err,
			}
		}(idx, v)
	}

	wg.Wait()
	return results
}

func (d *deployer) deployHost(v Validator) error {
	log := d.log.With(zap.String("host", v.Host))
	log.Info("starting deployment")

	sshTarget := fmt.Sprintf("%s@%s", v.User, v.Host)

	if err := d.sshRun(log, sshTarget, stopCommand(), 20*time.Second); err != nil {
		return fmt.Errorf("stop remote binary: %w", err)
	}

	if err := d.sshRun(log, sshTarget, fmt.Sprintf("mkdir -p %s/docs", v.RemoteDir), 20*time.Second); err != nil {
		return fmt.Errorf("prepare remote directories: %w", err)
	}

	if err := d.rsyncCopy(log, rsyncArgs(d.keyPath, d.binaryPath, fmt.Sprintf("%s:%s/", sshTarget, v.RemoteDir))); err != nil {
		return fmt.Errorf("rsync binary: %w", err)
	}
	if err := d.rsyncCopy(log, rsyncArgs(d.keyPath, d.docsDir+"/", fmt.Sprintf("%s:%s/docs/", sshTarget, v.RemoteDir))); err != nil {
		return fmt.Errorf("rsync docs: %w", err)
	}

	if err := d.sshRun(log, sshTarget, startCommand(v.RemoteDir), 30*time.Second); err != nil {
		return fmt.Errorf("start remote binary: %w", err)
	}

	if err := d.waitHealthy(v, 30*time.Second); err != nil {
		log.Warn("node failed to come up, fetching bmc.log")
		if logErr := d.sshRun(log, sshTarget, fmt.Sprintf("tail -n 50 %s/bmc.log", v.RemoteDir), 5*time.Second); logErr != nil {
			log.Warn("failed to fetch log", zap.Error(logErr))
		}
		return fmt.Errorf("verify node: %w", err)
	}

	log.Info("deployment succeeded")
	return nil
}

// waitHealthy polls /api/version until the node answers with the expected
// version or the timeout passes.
func (d *deployer) waitHealthy(v Validator, timeout time.Duration) error {
	url := fmt.Sprintf("http://%s:%d/api/version", v.Host, v.HTTPPort)
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 3 * time.Second}

	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = checkVersion(client, url, d.version)
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return lastErr
}

// checkVersion fetches url and compares its version field with want. An
// empty want accepts any healthy answer.
func checkVersion(client *http.Client, url, want string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode version: %w", err)
	}
	if want != "" && body.Version != want {
		return fmt.Errorf("node runs version %s, expected %s", body.Version, want)
	}
	return nil
}

func (d *deployer) sshRun(log *zap.Logger, target, remoteCmd string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{
		"-i", d.keyPath,
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=no",
		target,
		remoteCmd,
	}

	cmd := exec.CommandContext(ctx, "ssh", args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ssh command timed out: %s", remoteCmd)
		}
		return fmt.Errorf("ssh error (%s): %v | output: %s", remoteCmd, err, strings.TrimSpace(output.String()))
	}
	if out := strings.TrimSpace(output.String()); out != "" {
		log.Debug("ssh output", zap.String("output", out))
	}
	return nil
}

func (d *deployer) rsyncCopy(log *zap.Logger, args []string) error {
	cmd := exec.Command("rsync", args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync output: %s | err: %w", strings.TrimSpace(output.String()), err)
	}
	if out := strings.TrimSpace(output.String()); out != "" {
		log.Debug("rsync output", zap.String("output", out))
	}
	return nil
}

// protectedPaths are node state files rsync must never overwrite or delete.
var protectedPaths = []string{
	"bmc_key.pem",
	"ledger.db",
	"ledger.db-wal",
	"ledger.db-shm",
	"backups/",
	"config.yaml",
	".tendermint/",
}

func rsyncArgs(keyPath, src, dest string) []string {
	args := []string{"-az", "--delete"}
	for _, p := range protectedPaths {
		args = append(args, "--exclude="+p)
	}
	return append(args,
		"-e", fmt.Sprintf("ssh -i %s -o BatchMode=yes -o StrictHostKeyChecking=no", keyPath),
		src,
		dest,
	)
}

func stopCommand() string {
	return "pgrep -x bmc >/dev/null && pkill -TERM -x bmc; " +
		"count=0; while pgrep -x bmc >/dev/null; do if [ \"$count\" -ge 15 ]; then exit 1; fi; count=$((count+1)); sleep 1; done"
}

func startCommand(remoteDir string) string {
	return fmt.Sprintf("cd %[1]s && chmod +x bmc && BMC_CONFIG=%[1]s/config.yaml setsid -f nohup ./bmc >> bmc.log 2>&1 < /dev/null", remoteDir)
}
