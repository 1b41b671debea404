//go:build !windows

package portprobe

import (
	"context"
	"os/exec"
	"strconv"
)

func lookup(ctx context.Context, run Runner, port int) (int, bool) {
	// lsof exits 1 when nothing matches.
	out, err := run(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-t")
	if err != nil {
		return 0, false
	}
	return ParseLsof(string(out))
}

func hideWindow(*exec.Cmd) {}
