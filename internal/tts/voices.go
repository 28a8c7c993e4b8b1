package tts

import (
	"strconv"
	"strings"
)

// kokoroVoices 是 kokoro-multi-lang-v1_0 的音色到 speaker id 映射。
var kokoroVoices = map[string]int{
	"af_alloy": 0, "af_aoede": 1, "af_bella": 2, "af_heart": 3, "af_jessica": 4,
	"af_kore": 5, "af_nicole": 6, "af_nova": 7, "af_river": 8, "af_sarah": 9,
	"af_sky": 10, "am_adam": 11, "am_echo": 12, "am_eric": 13, "am_fenrir": 14,
	"am_liam": 15, "am_michael": 16, "am_onyx": 17, "am_puck": 18, "am_santa": 19,
	"bf_alice": 20, "bf_emma": 21, "bf_isabella": 22, "bf_lily": 23, "bm_daniel": 24,
	"bm_fable": 25, "bm_george": 26, "bm_lewis": 27, "ef_dora": 28, "em_alex": 29,
	"ff_siwis": 30, "hf_alpha": 31, "hf_beta": 32, "hm_omega": 33, "hm_psi": 34,
	"if_sara": 35, "im_nicola": 36, "jf_alpha": 37, "jf_gongitsune": 38, "jf_nezumi": 39,
	"jf_tebukuro": 40, "jm_kumo": 41, "pf_dora": 42, "pm_alex": 43, "pm_santa": 44,
	"zf_xiaobei": 45, "zf_xiaoni": 46, "zf_xiaoxiao": 47, "zf_xiaoyi": 48, "zm_yunjian": 49,
	"zm_yunxi": 50, "zm_yunxia": 51, "zm_yunyang": 52,
}

// VoiceTable 将音色名解析为 speaker id。
type VoiceTable struct {
	voices       map[string]int
	langVoices   map[string]string
	defaultVoice string
}

// NewVoiceTable 创建音色表。voices 为空时 builtin 为 true 则使用 kokoro 内置表。
func NewVoiceTable(voices map[string]int, builtin bool, langVoices map[string]string, defaultVoice string) *VoiceTable {
	if len(voices) == 0 && builtin {
		voices = kokoroVoices
	}
	return &VoiceTable{voices: voices, langVoices: langVoices, defaultVoice: defaultVoice}
}

// Resolve 返回音色名与 speaker id。
// 未指定音色时按语言代码选择默认音色，数字音色直接作为 id，未知音色回退到 0。
func (t *VoiceTable) Resolve(voice, lang string) (string, int) {
	if voice == "" {
		voice = t.langVoices[strings.ToLower(lang)]
	}
	if voice == "" {
		voice = t.defaultVoice
	}
	if voice == "" {
		return "", 0
	}

	if sid, ok := t.voices[strings.ToLower(voice)]; ok {
		return voice, sid
	}
	if sid, err := strconv.Atoi(voice); err == nil && sid >= 0 {
		return voice, sid
	}
	return voice, 0
}

// Known 返回音色名是否在表中。
func (t *VoiceTable) Known(voice string) bool {
	_, ok := t.voices[strings.ToLower(voice)]
	return ok
}
