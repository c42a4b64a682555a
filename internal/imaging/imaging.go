// internal/imaging/imaging.go
package imaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Corphon/HoverLens/internal/config"
	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/gabriel-vasile/mimetype"
)

const (
	dataURIPrefix = "data:"
	// 无法识别为图片时沿用 jpeg
	FallbackMIME = "image/jpeg"
	// DefaultMaxBytes 单张图片上限
	DefaultMaxBytes int64 = 20 << 20
)

// Fetcher 下载远程图片
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher 创建下载器
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}

	return &Fetcher{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		maxBytes: maxBytes,
	}
}

// NewFetcherFromConfig 使用服务配置
func NewFetcherFromConfig(cfg *config.Config) *Fetcher {
	return NewFetcher(cfg.Image.FetchTimeout, cfg.Image.MaxBytes)
}

// Fetch 下载图片字节，只请求一次
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewNetworkError("图片地址无效", err)
	}
	req.Header.Set("User-Agent", "HoverLens/1.0")
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("下载图片失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewNetworkError("下载图片失败",
			fmt.Errorf("图片服务器返回 %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewNetworkError("读取图片失败", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("图片超过大小上限 %d 字节", f.maxBytes), nil)
	}
	return data, nil
}

// Materialize 按模式准备发送给模型的图片地址
func (f *Fetcher) Materialize(ctx context.Context, source string, mode models.ImageMode) (string, error) {
	if source == "" {
		return "", apperrors.NewValidationError("图片地址不能为空", nil)
	}
	if mode != models.ImageModeBase64 || IsDataURI(source) {
		return source, nil
	}

	data, err := f.Fetch(ctx, source)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(data), nil
}

// IsDataURI 判断是否为 data: URI
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), dataURIPrefix)
}

// DetectImageMIME 嗅探 MIME；非图片返回 false
func DetectImageMIME(data []byte) (string, bool) {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "image/") {
		return mt.String(), true
	}
	return "", false
}

// EncodeDataURI 编码为 data:<mime>;base64,
func EncodeDataURI(data []byte) string {
	mime, ok := DetectImageMIME(data)
	if !ok {
		mime = FallbackMIME
	}
	return EncodeDataURIWithMIME(data, mime)
}

// EncodeDataURIWithMIME 使用给定的 MIME
func EncodeDataURIWithMIME(data []byte, mime string) string {
	return dataURIPrefix + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ReadImageFile 读取本地图片并编码，非图片内容会被拒绝
func ReadImageFile(path string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNotFoundError("文件不存在: "+path, err)
		}
		return "", apperrors.NewProcessingError("读取文件失败", err)
	}
	if info.Size() > maxBytes {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("图片超过大小上限 %d 字节", maxBytes), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.NewProcessingError("读取文件失败", err)
	}
	return EncodeImage(data)
}

// EncodeImage 校验字节是图片后编码
func EncodeImage(data []byte) (string, error) {
	mime, ok := DetectImageMIME(data)
	if !ok {
		return "", apperrors.NewValidationError("请选择图片文件", nil)
	}
	return EncodeDataURIWithMIME(data, mime), nil
}
