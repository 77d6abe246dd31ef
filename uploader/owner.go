package uploader

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewOwner names the current process as host:pid:nonce, the lock of a
// session is held under this name.
func NewOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

func parseOwner(owner string) (string, int, bool) {
	items := strings.Split(owner, ":")
	if len(items) < 3 {
		return "", 0, false
	}
	pid, err := strconv.Atoi(items[len(items)-2])
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return strings.Join(items[:len(items)-2], ":"), pid, true
}

// ownerGone reports whether owner was a process on this host that no longer
// runs. Owners on other hosts are never considered gone.
func ownerGone(owner string) bool {
	host, pid, ok := parseOwner(owner)
	if !ok {
		return false
	}
	local, err := os.Hostname()
	if err != nil || host != local || pid == os.Getpid() {
		return false
	}
	return !processAlive(pid)
}
