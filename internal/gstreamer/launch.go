package gstreamer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/e7canasta/orion-inspect/source"
)

const sinkName = "sink"

// rawVideo restricts decodebin/uridecodebin to the video stream so audio
// pads are never exposed unlinked.
const rawVideo = `caps="video/x-raw(ANY)" expose-all-streams=false`

// BuildLaunch returns the gst-launch description for desc. Every pipeline
// ends in an RGB appsink named "sink".
//
//	device: v4l2src device=/dev/videoN ! videoconvert ! RGB ! appsink (drop, 1 buffer)
//	file:   filesrc ! decodebin ! videoconvert ! RGB ! appsink (blocking, 2 buffers)
//	stream: uridecodebin ! videoconvert ! RGB ! appsink (drop, 1 buffer)
func BuildLaunch(desc source.Descriptor, deviceTemplate string) (string, error) {
	var head string
	switch desc.Kind {
	case source.KindDevice:
		if strings.HasPrefix(desc.URI, "/dev/") {
			head = "v4l2src device=" + quote(desc.URI)
			break
		}
		if _, err := strconv.Atoi(desc.URI); err != nil {
			return "", fmt.Errorf("gstreamer: invalid device %q", desc.URI)
		}
		if deviceTemplate == "" {
			deviceTemplate = DefaultDeviceTemplate
		}
		head = strings.ReplaceAll(deviceTemplate, "{index}", desc.URI)
	case source.KindFile:
		head = fmt.Sprintf("filesrc location=%s ! decodebin %s", quote(desc.URI), rawVideo)
	case source.KindStream:
		head = fmt.Sprintf("uridecodebin uri=%s %s", quote(desc.URI), rawVideo)
	default:
		return "", fmt.Errorf("gstreamer: unsupported source kind %s", desc.Kind)
	}

	// Live sources keep only the newest buffer; files apply backpressure so
	// no frame is skipped during playback.
	sink := fmt.Sprintf("appsink name=%s sync=false max-buffers=1 drop=true", sinkName)
	if desc.Kind == source.KindFile {
		sink = fmt.Sprintf("appsink name=%s sync=false max-buffers=2 drop=false", sinkName)
	}

	return head + " ! queue ! videoconvert ! video/x-raw,format=RGB ! " + sink, nil
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

var (
	widthRe     = regexp.MustCompile(`width=\(int\)(\d+)`)
	heightRe    = regexp.MustCompile(`height=\(int\)(\d+)`)
	framerateRe = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)
)

// parseCaps extracts width, height and frame rate from a caps string such
// as "video/x-raw, format=(string)RGB, width=(int)640, height=(int)480,
// framerate=(fraction)30/1". Missing fields are zero.
func parseCaps(caps string) (width, height int, fps float64) {
	if m := widthRe.FindStringSubmatch(caps); m != nil {
		width, _ = strconv.Atoi(m[1])
	}
	if m := heightRe.FindStringSubmatch(caps); m != nil {
		height, _ = strconv.Atoi(m[1])
	}
	if m := framerateRe.FindStringSubmatch(caps); m != nil {
		num, _ := strconv.ParseFloat(m[1], 64)
		den, _ := strconv.ParseFloat(m[2], 64)
		if den > 0 {
			fps = num / den
		}
	}
	return width, height, fps
}
