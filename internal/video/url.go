package video

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/n0remac/uavmesh/internal/wire"
)

// Port is the RTSP port every relay/publish URL targets (spec.md §9).
const Port = 8554

// subnetPrefix is the fixed /24 the mesh runs on; SplitURL reconstructs a
// capturer's full address from its two-digit suffix under this assumption,
// mirroring the original's hardcoded "192.168.2.1" prefix.
const subnetPrefix = "192.168.2.1"

// GenerateURL builds the RTSP URL a relayer republishes to (or an original
// capturer publishes to): the stream lives at publishIP, named after the
// capturer's last two octet digits.
func GenerateURL(capturerIP, publishIP wire.IP) string {
	return fmt.Sprintf("rtsp://%s:%d/vs%02d", publishIP.String(), Port, capturerIP.LastOctet()%100)
}

// SplitURL inverts GenerateURL modulo the subnetPrefix assumption: the
// publish IP is read directly out of the host portion, and the capturer IP
// is reconstructed from the two-digit stream suffix under the 192.168.2.1XX
// subnet.
func SplitURL(url string) (capturerIP, publishIP wire.IP, err error) {
	const scheme = "rtsp://"
	if !strings.HasPrefix(url, scheme) {
		return 0, 0, fmt.Errorf("video: %q is not an rtsp URL", url)
	}
	rest := url[len(scheme):]
	host, path, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("video: %q has no stream path", url)
	}
	hostOnly, _, ok := strings.Cut(host, ":")
	if !ok {
		return 0, 0, fmt.Errorf("video: %q has no port", url)
	}
	publishIP, err = wire.ParseIPv4(hostOnly)
	if err != nil {
		return 0, 0, fmt.Errorf("video: bad publish host in %q: %w", url, err)
	}

	suffix := strings.TrimPrefix(path, "vs")
	if len(suffix) < 2 {
		return 0, 0, fmt.Errorf("video: %q has a malformed stream suffix", url)
	}
	suffix = suffix[len(suffix)-2:]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, 0, fmt.Errorf("video: bad stream suffix in %q: %w", url, err)
	}
	capturerIP, err = wire.ParseIPv4(fmt.Sprintf("%s%02d", subnetPrefix, n))
	if err != nil {
		return 0, 0, fmt.Errorf("video: reconstructing capturer IP from %q: %w", url, err)
	}
	return capturerIP, publishIP, nil
}
