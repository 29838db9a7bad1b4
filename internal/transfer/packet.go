package transfer

import (
	"unicode/utf8"

	"wristrelay/internal/notification"
	"wristrelay/internal/settings"
	"wristrelay/internal/transport"
	"wristrelay/internal/wire"
)

// ChunkSize is the number of characters per body packet.
const ChunkSize = 100

// Dictionary keys and values of the notification module.
const (
	keyModule   uint32 = 0
	keyType     uint32 = 1
	keyID       uint32 = 2
	keyConfig   uint32 = 3
	keyTitle    uint32 = 4
	keySubtitle uint32 = 5
	keyLast     uint32 = 999

	moduleNotification uint8 = 1
	packetInitial      uint8 = 0
	packetChunk        uint8 = 1
)

// Config flag bits.
const (
	flagList       = 0x02
	flagSwitch     = 0x04
	flagScrollEnd  = 0x08
	flagSelectMenu = 0x10
	flagHoldMenu   = 0x20
)

// SplitChunks cuts text into pieces of at most size runes.
func SplitChunks(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	for text != "" {
		cut, runes := 0, 0
		for cut < len(text) && runes < size {
			_, w := utf8.DecodeRuneInString(text[cut:])
			cut += w
			runes++
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// GColor8 maps an ARGB color onto the watch's opaque 2-bit-per-channel palette.
func GColor8(argb uint32) byte {
	r := byte(argb>>16) >> 6
	g := byte(argb>>8) >> 6
	b := byte(argb) >> 6
	return 0xC0 | r<<4 | g<<2 | b
}

type initialParams struct {
	platform transport.Platform
	pattern  []byte
}

// configBytes packs display options for the initial packet.
func configBytes(n *notification.Outbound, p initialParams) []byte {
	src, s := n.Source, n.Settings
	showMenu := s.Global.ShowMenuInstantly

	var flags byte
	if src.List {
		flags |= flagList
	}
	if s.SwitchToMostRecent || src.ForceSwitch {
		flags |= flagSwitch
	}
	if src.ScrollToEnd {
		flags |= flagScrollEnd
	}
	actions := min(len(src.Actions), 0xFF)
	if actions > 0 && showMenu {
		if src.ForceActionMenu || s.SelectPressAction == settings.ActionOpenMenu {
			flags |= flagSelectMenu
		}
		if s.SelectHoldAction == settings.ActionOpenMenu {
			flags |= flagHoldMenu
		}
	}

	periodic := min(max(s.PeriodicVibration, 0), settings.MaxPeriodicVibration)
	textLen := min(len(src.Text), 0xFFFF)

	shake := s.ShakeAction
	if shake == settings.ActionOpenMenu && !showMenu {
		shake = settings.ActionOpenRecent
	}

	var color byte
	if p.platform.SupportsColor() {
		color = GColor8(src.Color)
	}

	pattern := p.pattern
	if len(pattern) > 0xFF {
		pattern = pattern[:0xFF]
	}

	out := make([]byte, 0, 12+len(pattern))
	out = append(out,
		flags,
		byte(periodic>>8), byte(periodic),
		byte(actions),
		byte(textLen>>8), byte(textLen),
		byte(shake),
		byte(s.TitleFont), byte(s.SubtitleFont), byte(s.BodyFont),
		color,
		byte(len(pattern)),
	)
	return append(out, pattern...)
}

func initialPacket(n *notification.Outbound, p initialParams) wire.Dictionary {
	var d wire.Dictionary
	d.AddUint8(keyModule, moduleNotification)
	d.AddUint8(keyType, packetInitial)
	d.AddInt32(keyID, n.ID)
	d.AddBytes(keyConfig, configBytes(n, p))
	d.AddString(keyTitle, n.Source.Title)
	d.AddString(keySubtitle, n.Source.Subtitle)
	d.AddUint8(keyLast, 1)
	return d
}

func chunkPacket(id int32, chunk string) wire.Dictionary {
	var d wire.Dictionary
	d.AddUint8(keyModule, moduleNotification)
	d.AddUint8(keyType, packetChunk)
	d.AddInt32(keyID, id)
	d.AddString(keyConfig, chunk)
	return d
}
