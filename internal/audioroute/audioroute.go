// Package audioroute implements the coarse audio-route tracker (C10,
// §4.7): it turns the audio policy daemon's prefix-keyed route table
// and active-sink-name signal into one of the handset/headset/speaker
// routes the rest of the mesh gates on (§4.4.8's CALL+HANDSET+covered
// proximity-blanking rule being the main consumer), and separately
// answers "is music currently playing" from either an explicit media
// player state signal or, failing that, a volume-level heuristic.
package audioroute

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
)

// Channel names this package owns or consumes.
const (
	ChanAudioRoute   = "audio.route"          // mcetypes.AudioRoute, this package's output
	ChanMediaState   = "audio.media_state"    // string "playing"/"stopped"/"" (unknown), external input
	ChanVolumeLevel  = "audio.volume_level"   // int64 0..100, external input
	ChanMusicPlaying = "audio.music_playing"  // bool, this package's output
)

// volumeHeuristicFloor is the volume level at or above which, absent an
// explicit media player state, audio is assumed to be actively
// playing rather than merely unmuted (§4.7 "volume-limit fallback").
const volumeHeuristicFloor = 10

type routeEntry struct {
	prefix string
	route  mcetypes.AudioRoute
}

// Router owns the prefix route table and the derived channels.
type Router struct {
	log zerolog.Logger
	hub *datapipe.Hub

	mu    sync.Mutex
	table []routeEntry
}

// Deps bundles Router's collaborators.
type Deps struct {
	Log zerolog.Logger
	Hub *datapipe.Hub
}

// New builds a Router and declares its channels.
func New(d Deps) *Router {
	r := &Router{log: d.Log.With().Str("component", "audioroute").Logger(), hub: d.Hub}

	r.hub.Declare(ChanAudioRoute, datapipe.ChannelOpts{Initial: mcetypes.AudioRouteUndefined})
	r.hub.Declare(ChanMediaState, datapipe.ChannelOpts{Initial: ""})
	r.hub.Declare(ChanVolumeLevel, datapipe.ChannelOpts{Initial: int64(0)})
	r.hub.Declare(ChanMusicPlaying, datapipe.ChannelOpts{Initial: false})

	for _, ch := range []string{ChanMediaState, ChanVolumeLevel} {
		r.hub.MustGet(ch).AttachOutputTrigger(datapipe.TriggerFunc{
			Tag: "audioroute.music",
			Fn:  func(_ datapipe.SourcePolicy, _ any) { r.evaluateMusicPlaying() },
		})
	}
	return r
}

// ApplyPolicyTable replaces the prefix -> route table from the audio
// policy daemon's signal (§6.3): args[0] is an array of [prefix,
// routeName] tuples. Prefixes are matched longest-first so a more
// specific sink name (e.g. "sink.bluetooth.a2dp") wins over a generic
// one ("sink.").
func (r *Router) ApplyPolicyTable(args busclient.Args) error {
	tuples, err := busclient.ArgTupleArray(args, 0)
	if err != nil {
		return err
	}
	table := make([]routeEntry, 0, len(tuples))
	for _, tuple := range tuples {
		if len(tuple) < 2 {
			continue
		}
		prefix, ok := tuple[0].(string)
		if !ok {
			continue
		}
		name, ok := tuple[1].(string)
		if !ok {
			continue
		}
		table = append(table, routeEntry{prefix: prefix, route: parseRouteName(name)})
	}
	sort.Slice(table, func(i, j int) bool { return len(table[i].prefix) > len(table[j].prefix) })

	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
	return nil
}

// ApplyActiveSink looks sinkName up against the prefix table and
// publishes the matching route, or Undefined if nothing matches.
func (r *Router) ApplyActiveSink(sinkName string) {
	r.mu.Lock()
	table := r.table
	r.mu.Unlock()

	route := mcetypes.AudioRouteUndefined
	for _, e := range table {
		if strings.HasPrefix(sinkName, e.prefix) {
			route = e.route
			break
		}
	}
	if ch, err := r.hub.Get(ChanAudioRoute); err == nil {
		ch.Publish(route, datapipe.FromInput, datapipe.Cache)
	}
}

func parseRouteName(name string) mcetypes.AudioRoute {
	switch name {
	case "handset":
		return mcetypes.AudioRouteHandset
	case "headset", "headphone", "bluetooth":
		return mcetypes.AudioRouteHeadset
	case "speaker":
		return mcetypes.AudioRouteSpeaker
	default:
		return mcetypes.AudioRouteUndefined
	}
}

func (r *Router) evaluateMusicPlaying() {
	ch, err := r.hub.Get(ChanMediaState)
	if err != nil {
		return
	}
	raw, _ := ch.Value()
	state, _ := raw.(string)

	var playing bool
	switch state {
	case "playing":
		playing = true
	case "stopped", "paused":
		playing = false
	default:
		playing = r.volumeHeuristic()
	}

	if out, err := r.hub.Get(ChanMusicPlaying); err == nil {
		out.Publish(playing, datapipe.Internal, datapipe.Cache)
	}
}

func (r *Router) volumeHeuristic() bool {
	ch, err := r.hub.Get(ChanVolumeLevel)
	if err != nil {
		return false
	}
	raw, _ := ch.Value()
	level, _ := raw.(int64)
	return level >= volumeHeuristicFloor
}
