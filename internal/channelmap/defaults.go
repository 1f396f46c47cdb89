package channelmap

// Rig channel names used by the default table. They follow the VRM
// expression presets most avatar rigs ship with.
const (
	ChannelAA         = "aa"
	ChannelIH         = "ih"
	ChannelOU         = "ou"
	ChannelEE         = "ee"
	ChannelOH         = "oh"
	ChannelBlinkLeft  = "blinkLeft"
	ChannelBlinkRight = "blinkRight"
	ChannelHappy      = "happy"
	ChannelSad        = "sad"
	ChannelAngry      = "angry"
	ChannelSurprised  = "surprised"
	ChannelLookUp     = "lookUp"
	ChannelLookDown   = "lookDown"
	ChannelLookLeft   = "lookLeft"
	ChannelLookRight  = "lookRight"
)

// SourceHeadRotation is the pose signal carrying head rotation in degrees.
const SourceHeadRotation = "headRotation"

// BoneHead is the default head bone node name.
const BoneHead = "Head"

var defaultEntries = []Entry{
	{Source: "mouthOpen", Target: ChannelAA},
	{Source: "eyeBlinkLeft", Target: ChannelBlinkLeft},
	{Source: "eyeBlinkRight", Target: ChannelBlinkRight},
	{Source: "mouthSmileLeft", Target: ChannelHappy},
	{Source: "mouthSmileRight", Target: ChannelHappy},
	{Source: "mouthFrownLeft", Target: ChannelSad},
	{Source: "mouthFrownRight", Target: ChannelSad},
	{Source: "browDownLeft", Target: ChannelAngry},
	{Source: "browDownRight", Target: ChannelAngry},
	{Source: "browInnerUp", Target: ChannelSurprised},
	{Source: "eyeLookUpLeft", Target: ChannelLookUp},
	{Source: "eyeLookDownLeft", Target: ChannelLookDown},
	{Source: "eyeLookOutLeft", Target: ChannelLookLeft},
	{Source: "eyeLookOutRight", Target: ChannelLookRight},

	{Source: "A", Target: ChannelAA},
	{Source: "I", Target: ChannelIH},
	{Source: "U", Target: ChannelOU},
	{Source: "E", Target: ChannelEE},
	{Source: "O", Target: ChannelOH},

	{Source: SourceHeadRotation, Target: BoneHead, Kind: KindBone},
}

// Default returns the built-in table used when no mapping is configured.
func Default() *Table {
	entries := make([]Entry, len(defaultEntries))
	for i, e := range defaultEntries {
		e.Transform = Identity()
		entries[i] = e
	}
	return MustNew(entries)
}
