package mp4

type MP4_CODEC_TYPE int

const (
	MP4_CODEC_UNKNOWN MP4_CODEC_TYPE = iota
	MP4_CODEC_H264
	MP4_CODEC_H265
	MP4_CODEC_VP8
	MP4_CODEC_VP9
	MP4_CODEC_AV1

	MP4_CODEC_AAC MP4_CODEC_TYPE = iota + 100
	MP4_CODEC_OPUS
	MP4_CODEC_AC3
	MP4_CODEC_EAC3
	MP4_CODEC_FLAC
	MP4_CODEC_G711A
	MP4_CODEC_G711U

	MP4_CODEC_TX3G MP4_CODEC_TYPE = iota + 200
	MP4_CODEC_WVTT
	MP4_CODEC_STPP
)

var codecNames = map[MP4_CODEC_TYPE]string{
	MP4_CODEC_H264:  "h264",
	MP4_CODEC_H265:  "h265",
	MP4_CODEC_VP8:   "vp8",
	MP4_CODEC_VP9:   "vp9",
	MP4_CODEC_AV1:   "av1",
	MP4_CODEC_AAC:   "aac",
	MP4_CODEC_OPUS:  "opus",
	MP4_CODEC_AC3:   "ac3",
	MP4_CODEC_EAC3:  "eac3",
	MP4_CODEC_FLAC:  "flac",
	MP4_CODEC_G711A: "alaw",
	MP4_CODEC_G711U: "ulaw",
	MP4_CODEC_TX3G:  "tx3g",
	MP4_CODEC_WVTT:  "webvtt",
	MP4_CODEC_STPP:  "ttml",
}

func (cid MP4_CODEC_TYPE) String() string {
	if name, ok := codecNames[cid]; ok {
		return name
	}
	return "unknown"
}

// CodecFromSampleEntry maps a sample entry format to a codec. Encrypted
// entries (encv/enca) are reported as unknown.
func CodecFromSampleEntry(format [4]byte) MP4_CODEC_TYPE {
	switch string(format[:]) {
	case "avc1", "avc3":
		return MP4_CODEC_H264
	case "hvc1", "hev1":
		return MP4_CODEC_H265
	case "vp08":
		return MP4_CODEC_VP8
	case "vp09":
		return MP4_CODEC_VP9
	case "av01":
		return MP4_CODEC_AV1
	case "mp4a":
		return MP4_CODEC_AAC
	case "Opus":
		return MP4_CODEC_OPUS
	case "ac-3":
		return MP4_CODEC_AC3
	case "ec-3":
		return MP4_CODEC_EAC3
	case "fLaC":
		return MP4_CODEC_FLAC
	case "alaw":
		return MP4_CODEC_G711A
	case "ulaw":
		return MP4_CODEC_G711U
	case "tx3g":
		return MP4_CODEC_TX3G
	case "wvtt":
		return MP4_CODEC_WVTT
	case "stpp":
		return MP4_CODEC_STPP
	}
	return MP4_CODEC_UNKNOWN
}
