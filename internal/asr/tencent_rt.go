package asr

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/logger"
)

const (
	rtHost = "asr.cloud.tencent.com"
	// rtChunkBytes 为每帧发送的 PCM 字节数（200ms @ 16kHz 16bit）。
	rtChunkBytes = 6400
	rtTimeout    = 30 * time.Second
)

// TencentRT 腾讯云实时语音识别，通过 WebSocket 批量发送音频，
// 服务端按句返回带时间戳的结果。
// 文档：https://cloud.tencent.com/document/product/1093/48982
type TencentRT struct {
	secretID  string
	secretKey string
	appID     string
	// baseURL 为空时使用 wss://asr.cloud.tencent.com，测试中指向本地服务。
	baseURL string
	dialer  *websocket.Dialer
}

var _ Model = (*TencentRT)(nil)

// NewTencentRT 创建腾讯云实时语音识别模型。
func NewTencentRT(cfg TencentConfig) (*TencentRT, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("腾讯云 SecretID 和 SecretKey 不能为空")
	}
	if cfg.AppID == "" {
		return nil, fmt.Errorf("腾讯云 AppID 不能为空")
	}

	logger.Infof("[asr] 腾讯云实时语音识别已初始化 (appid=%s)", cfg.AppID)
	return &TencentRT{
		secretID:  cfg.SecretID,
		secretKey: cfg.SecretKey,
		appID:     cfg.AppID,
		dialer:    websocket.DefaultDialer,
	}, nil
}

// rtResponse 实时语音识别响应。
type rtResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	VoiceID string `json:"voice_id"`
	Result  *struct {
		VoiceTextStr string `json:"voice_text_str"`
		SliceType    int    `json:"slice_type"` // 0=一句话开始，1=中间结果，2=一句话结束
		StartTime    int64  `json:"start_time"` // 毫秒
		EndTime      int64  `json:"end_time"`
	} `json:"result"`
	Final int `json:"final"` // 1=全部识别结束
}

// Transcribe 实现 Model 接口。
func (e *TencentRT) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts *Options) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	if opts == nil {
		opts = &Options{}
	}

	samples = audio.Resample(samples, sampleRate, SampleRate)
	pcm := audio.Float32ToBytes(samples)

	ctx, cancel := context.WithTimeout(ctx, rtTimeout+time.Duration(audio.Duration(samples, SampleRate)*float64(time.Second)))
	defer cancel()

	wsURL := e.buildURL(time.Now(), rand.Intn(99999-1000)+1000, uuid.NewString(), engineServiceType(opts.Language))
	conn, _, err := e.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}
	defer conn.Close()

	// ctx 结束时关闭连接以打断阻塞读写
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	type outcome struct {
		segments []Segment
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		segments, err := readRTResults(conn)
		done <- outcome{segments, err}
	}()

	for i := 0; i < len(pcm); i += rtChunkBytes {
		end := min(i+rtChunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			return nil, fmt.Errorf("发送音频失败: %w", errOr(ctx, err))
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)); err != nil {
		return nil, fmt.Errorf("发送结束信号失败: %w", errOr(ctx, err))
	}

	res := <-done
	if res.err != nil {
		return nil, errOr(ctx, res.err)
	}

	logger.Debugf("[asr] 腾讯云实时语音识别完成，共 %d 句", len(res.segments))
	return &Result{
		Text:     joinText(res.segments),
		Language: normalizeLanguage(opts.Language),
		Duration: audio.Duration(samples, SampleRate),
		Segments: res.segments,
	}, nil
}

// readRTResults 读取识别结果直到 final=1，收集每句的最终结果。
func readRTResults(conn *websocket.Conn) ([]Segment, error) {
	var segments []Segment
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("读取识别结果失败: %w", err)
		}

		var resp rtResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			continue
		}
		if resp.Code != 0 {
			return nil, fmt.Errorf("ASR 错误 (code=%d): %s", resp.Code, resp.Message)
		}

		if r := resp.Result; r != nil && r.SliceType == 2 {
			if text := strings.TrimSpace(r.VoiceTextStr); text != "" {
				segments = append(segments, Segment{
					Start: float64(r.StartTime) / 1000,
					End:   float64(r.EndTime) / 1000,
					Text:  text,
				})
			}
		}
		if resp.Final == 1 {
			return segments, nil
		}
	}
}

// errOr 在 ctx 已结束时返回 ctx 的错误。
func errOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// buildURL 构建带签名的 WebSocket 地址。
// 签名原文为 host + path + ? + 按字典序排列的参数。
func (e *TencentRT) buildURL(now time.Time, nonce int, voiceID, engineModel string) string {
	path := "/asr/v2/" + e.appID
	ts := now.Unix()

	params := map[string]string{
		"secretid":          e.secretID,
		"timestamp":         strconv.FormatInt(ts, 10),
		"expired":           strconv.FormatInt(ts+86400, 10),
		"nonce":             strconv.Itoa(nonce),
		"engine_model_type": engineModel,
		"voice_id":          voiceID,
		"voice_format":      "1", // PCM
		"needvad":           "1",
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	query := strings.Join(pairs, "&")

	signature := e.sign(rtHost + path + "?" + query)

	base := e.baseURL
	if base == "" {
		base = "wss://" + rtHost
	}
	return fmt.Sprintf("%s%s?%s&signature=%s", base, path, query, url.QueryEscape(signature))
}

// sign 计算 HMAC-SHA1 签名并返回 Base64 编码。
func (e *TencentRT) sign(data string) string {
	h := hmac.New(sha1.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Close 实现 Model 接口，连接按请求建立，无常驻资源。
func (e *TencentRT) Close() {}
