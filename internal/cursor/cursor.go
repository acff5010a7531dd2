// Package cursor 实现分页游标编解码：游标是 (timestamp, post_id) 水位的不透明令牌。
// 令牌格式：base64url(JSON{v, ts, id, sig})，ts 为纳秒时间戳，sig 将游标绑定到 viewer。
package cursor

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go-timeline/internal/models"
)

// Version 当前游标结构版本；其他版本一律视为无效游标
const Version = 1

const sigBytes = 12

// ErrInvalidCursor 游标格式错误、结构错误、版本不符或不属于该 viewer
var ErrInvalidCursor = errors.New("invalid cursor")

type token struct {
	V   *int    `json:"v"`
	TS  *int64  `json:"ts"`
	ID  *int64  `json:"id"`
	Sig *string `json:"sig"`
}

// Codec 游标编解码器，secret 用于按 viewer 签名
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode 把水位编码为 viewer 专属令牌；零水位编码为空串
func (c *Codec) Encode(viewerID string, w models.Watermark) string {
	if w.IsZero() {
		return ""
	}
	v := Version
	ts := w.Timestamp.UnixNano()
	id := w.PostID
	sig := c.sign(viewerID, ts, id)
	raw, _ := json.Marshal(token{V: &v, TS: &ts, ID: &id, Sig: &sig})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode 解析令牌；空令牌表示从头开始（零水位）。
// 过期（陈旧）的游标不是错误，只会得到空页或不完整的页
func (c *Codec) Decode(viewerID, tok string) (models.Watermark, error) {
	if tok == "" {
		return models.Watermark{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return models.Watermark{}, ErrInvalidCursor
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var t token
	if err := dec.Decode(&t); err != nil {
		return models.Watermark{}, ErrInvalidCursor
	}
	if dec.More() {
		return models.Watermark{}, ErrInvalidCursor
	}
	if t.V == nil || t.TS == nil || t.ID == nil || t.Sig == nil {
		return models.Watermark{}, ErrInvalidCursor
	}
	if *t.V != Version || *t.ID <= 0 || *t.TS == 0 {
		return models.Watermark{}, ErrInvalidCursor
	}
	want := c.sign(viewerID, *t.TS, *t.ID)
	if !hmac.Equal([]byte(want), []byte(*t.Sig)) {
		return models.Watermark{}, ErrInvalidCursor
	}
	return models.Watermark{Timestamp: time.Unix(0, *t.TS).UTC(), PostID: *t.ID}, nil
}

func (c *Codec) sign(viewerID string, ts, id int64) string {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(viewerID))
	m.Write([]byte{0})
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte{0})
	m.Write([]byte(strconv.FormatInt(id, 10)))
	return hex.EncodeToString(m.Sum(nil)[:sigBytes])
}
