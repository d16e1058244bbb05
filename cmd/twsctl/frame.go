package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/twsync/pkg/stream"
	"github.com/srg/twsync/pkg/tws/protocol"
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Encode, decode and translate TWS frames",
}

var frameEncodeCmd = &cobra.Command{
	Use:   "encode <event> [param]",
	Short: "Encode a frame",
	Long: `Encodes a frame exchanged between the two speakers and prints it as hex.

Examples:
  # UI event 0x42, dispatched on both sides at BT clock 1320
  twsctl frame encode ui 0x42 --clock 1320

  # Volume sync for the music stream
  twsctl frame encode volume --media music --volume 9

  # Start-play status notification
  twsctl frame encode status --media music --codec 1 --rate 48 --volume 10

  # Stop-play status notification
  twsctl frame encode status --stop`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFrameEncode,
}

var frameDecodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a frame",
	Long: `Decodes a native frame and prints its fields.

Examples:
  twsctl frame decode 01 42 00 00 00 28 05 00 00
  twsctl frame decode 05:e0:02:01:30:0a`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFrameDecode,
}

var frameLegacyCmd = &cobra.Command{
	Use:   "legacy <hex>",
	Short: "Translate a frame to or from the US281B command set",
	Long: `Translates a native frame into the commands sent to a US281B-era peer,
or with --from a legacy command into its local effect.

Examples:
  # Start-play status for a peer without start/stop command support
  twsctl frame legacy 05e00201300a --peer-features 0

  # Speaker position switch received from a legacy master
  twsctl frame legacy --from 8302`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFrameLegacy,
}

var (
	frameClock    int64
	frameMedia    string
	frameVolume   uint8
	frameCodec    uint8
	frameRate     uint8
	frameStop     bool
	frameLevel    uint8
	frameFeatures string
	frameFromPeer bool
)

func init() {
	frameEncodeCmd.Flags().Int64Var(&frameClock, "clock", -1, "Target BT clock; makes a synchronized frame")
	frameEncodeCmd.Flags().StringVar(&frameMedia, "media", "music", "Stream type for volume and status frames")
	frameEncodeCmd.Flags().Uint8Var(&frameVolume, "volume", 0, "Volume for volume and status frames")
	frameEncodeCmd.Flags().Uint8Var(&frameCodec, "codec", 0, "Codec for status frames")
	frameEncodeCmd.Flags().Uint8Var(&frameRate, "rate", 0, "Sample rate in kHz for status frames")
	frameEncodeCmd.Flags().BoolVar(&frameStop, "stop", false, "Encode a stop-play status frame")
	frameEncodeCmd.Flags().Uint8Var(&frameLevel, "level", 0, "Battery level 0..10 for battery frames")

	frameLegacyCmd.Flags().StringVar(&frameFeatures, "peer-features", "", "Peer feature mask; defaults to the current firmware features")
	frameLegacyCmd.Flags().BoolVar(&frameFromPeer, "from", false, "Translate a command received from a legacy peer")

	frameCmd.AddCommand(frameEncodeCmd)
	frameCmd.AddCommand(frameDecodeCmd)
	frameCmd.AddCommand(frameLegacyCmd)
}

// parseHex accepts hex bytes with optional spaces, colons, dashes or 0x prefixes
func parseHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return data, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return uint32(v), nil
}

func parseEvent(s string) (protocol.EventID, error) {
	if id, err := protocol.ParseEventID(strings.ToLower(s)); err == nil {
		return id, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || !protocol.EventID(v).Valid() {
		return 0, fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, s)
	}
	return protocol.EventID(v), nil
}

func encodeFrame(args []string) ([]byte, error) {
	ev, err := parseEvent(args[0])
	if err != nil {
		return nil, err
	}

	if ev == protocol.EventStatus {
		sub := protocol.StatusStartPlay
		if frameStop {
			sub = protocol.StatusStopPlay
		}
		media, err := stream.ParseType(frameMedia)
		if err != nil {
			return nil, err
		}
		return protocol.StatusFrame{
			SubEvent:   sub,
			MediaType:  media,
			Codec:      frameCodec,
			SampleRate: frameRate,
			Volume:     frameVolume,
		}.Encode(), nil
	}

	var param uint32
	switch {
	case len(args) == 2:
		if param, err = parseUint32(args[1]); err != nil {
			return nil, err
		}
	case ev == protocol.EventVolume:
		media, err := stream.ParseType(frameMedia)
		if err != nil {
			return nil, err
		}
		param = protocol.VolumeParam(media, frameVolume)
	case ev == protocol.EventBattery:
		param = protocol.BatteryParam(frameLevel)
	default:
		return nil, fmt.Errorf("%s frames need a parameter", ev)
	}

	f := protocol.Frame{Event: ev, Param: param}
	if frameClock >= 0 {
		f.Sync, f.TargetClock = true, uint32(frameClock)
	}
	return protocol.Encode(f), nil
}

func runFrameEncode(cmd *cobra.Command, args []string) error {
	data, err := encodeFrame(args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
	return nil
}

func runFrameDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHex(args)
	if err != nil {
		return err
	}
	f, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	p := newPrinter(cmd)
	p.field("event", fmt.Sprintf("%s (0x%02x)", f.Event, uint8(f.Event)))

	switch f.Event {
	case protocol.EventStatus:
		st, err := protocol.DecodeStatus(f.Raw)
		if err != nil {
			return err
		}
		if st.SubEvent == protocol.StatusStopPlay {
			p.field("status", "stop play")
			return nil
		}
		p.field("status", fmt.Sprintf("start play (0x%02x)", st.SubEvent))
		p.field("media", st.MediaType)
		p.field("codec", st.Codec)
		p.field("sample rate", fmt.Sprintf("%d kHz", st.SampleRate))
		p.field("volume", st.Volume)
		return nil
	case protocol.EventVolume:
		media, vol := protocol.SplitVolume(f.Param)
		p.field("media", media)
		p.field("volume", vol)
	case protocol.EventBattery:
		percent, uv := protocol.SplitBattery(f.Param)
		p.field("battery", fmt.Sprintf("%d%%", percent))
		p.field("voltage", fmt.Sprintf("%d uV", uv))
	default:
		p.field("param", fmt.Sprintf("0x%08x", f.Param))
	}

	if f.Sync {
		p.field("target clock", f.TargetClock)
	}
	return nil
}

func runFrameLegacy(cmd *cobra.Command, args []string) error {
	data, err := parseHex(args)
	if err != nil {
		return err
	}

	features := protocol.CurrentFeatures
	if frameFeatures != "" {
		v, err := parseUint32(frameFeatures)
		if err != nil {
			return err
		}
		features = protocol.Feature(v)
	}
	l := protocol.NewLegacy(func(f protocol.Feature) bool { return features&f != 0 })

	p := newPrinter(cmd)
	if frameFromPeer {
		in, err := l.FromLegacy(data)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		if in.Frame != nil {
			p.field("frame", hex.EncodeToString(in.Frame))
		}
		if in.ChannelSwitch {
			p.field("position", in.Position)
		}
		switch in.Play {
		case protocol.PlayStarted:
			p.field("play", "started")
		case protocol.PlayStopped:
			p.field("play", "stopped")
		}
		return nil
	}

	cmds, err := l.ToLegacy(data)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	if len(cmds) == 0 {
		p.field("commands", "none")
	}
	for _, c := range cmds {
		mode := "async"
		if c.Sync {
			mode = "sync"
		}
		p.field(mode, hex.EncodeToString(c.Data))
	}
	return nil
}
