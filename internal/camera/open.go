package camera

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

// NewGrabber picks a transport for a source URI:
//
//	mjpeg+http://host/stream      MJPEG multipart stream
//	http://host/video.mjpg        MJPEG when the path looks like a stream
//	http://host/snapshot.jpg      still image per frame
//	dir:/var/lib/gate/frames      directory replay (loops)
//	/var/lib/gate/frames          same, for an existing directory
//
// Local capture devices are exposed through a local MJPEG streamer and
// configured by its URL.
func NewGrabber(uri string, client *http.Client) (Grabber, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return nil, fmt.Errorf("camera source is not configured")
	case strings.HasPrefix(uri, "mjpeg+"):
		return &MJPEGGrabber{URL: strings.TrimPrefix(uri, "mjpeg+"), Client: client}, nil
	case strings.HasPrefix(uri, "snapshot+"):
		return &SnapshotGrabber{URL: strings.TrimPrefix(uri, "snapshot+"), Client: client}, nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		if looksLikeStream(uri) {
			return &MJPEGGrabber{URL: uri, Client: client}, nil
		}
		return &SnapshotGrabber{URL: uri, Client: client}, nil
	case strings.HasPrefix(uri, "dir:"):
		return &DirGrabber{Dir: strings.TrimPrefix(uri, "dir:"), Loop: true}, nil
	}

	if info, err := os.Stat(uri); err == nil && info.IsDir() {
		return &DirGrabber{Dir: uri, Loop: true}, nil
	}
	return nil, fmt.Errorf("unsupported camera source %q (use an http(s) URL, mjpeg+URL or dir:PATH)", redact(uri))
}

func looksLikeStream(uri string) bool {
	lower := strings.ToLower(uri)
	for _, hint := range []string{".mjpg", ".mjpeg", "action=stream", "/stream", "/video"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Open builds a Source for a URI.
func Open(uri string, opts Options) (*Source, error) {
	g, err := NewGrabber(uri, nil)
	if err != nil {
		return nil, err
	}
	return NewSource(g, opts), nil
}
