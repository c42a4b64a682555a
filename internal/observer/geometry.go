// internal/observer/geometry.go
package observer

// MinImageSize 小于该尺寸的图片不显示按钮
const MinImageSize = 50

// 按钮默认尺寸与边距
const (
	DefaultButtonWidth  = 80
	DefaultButtonHeight = 28
	Margin              = 10
)

// Rect 视口坐标下的矩形
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Viewport 可见区域大小
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Position 按钮左上角
type Position struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

// Image 页面上的一张图片，以 Src 作为身份
type Image struct {
	Src  string `json:"src"`
	Rect Rect   `json:"rect"`
}

// LargeEnough 宽高都不小于 MinImageSize
func (img Image) LargeEnough() bool {
	return img.Rect.Width >= MinImageSize && img.Rect.Height >= MinImageSize
}

// PlaceTrigger 放在图片右上角内侧 10px，并限制在视口内
func PlaceTrigger(img Rect, vp Viewport, btnW, btnH float64) Position {
	top := img.Top + Margin
	left := img.Right() - btnW - Margin

	if left+btnW > vp.Width {
		left = vp.Width - btnW - Margin
	}
	if left < 0 {
		left = Margin
	}
	if top < 0 {
		top = Margin
	}
	if top+btnH > vp.Height {
		top = vp.Height - btnH - Margin
	}
	return Position{Top: top, Left: left}
}
