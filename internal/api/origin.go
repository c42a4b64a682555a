// internal/api/origin.go
package api

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy 浏览器来源白名单。
// 条目格式：* 全部放行；scheme://* 放行该协议下任意来源；
// scheme://host 不限端口；scheme://host:port 精确匹配
type OriginPolicy struct {
	allowAll bool
	schemes  map[string]struct{}
	hosts    map[string]struct{}
	exact    map[string]struct{}
}

// NewOriginPolicy 解析白名单，无法解析的条目被忽略
func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{
		schemes: make(map[string]struct{}),
		hosts:   make(map[string]struct{}),
		exact:   make(map[string]struct{}),
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimRight(strings.TrimSpace(entry), "/"))
		switch {
		case entry == "":
		case entry == "*":
			p.allowAll = true
		case strings.HasSuffix(entry, "://*"):
			p.schemes[strings.TrimSuffix(entry, "://*")] = struct{}{}
		default:
			u, err := url.Parse(entry)
			if err != nil || u.Scheme == "" || u.Host == "" {
				continue
			}
			if u.Port() == "" {
				p.hosts[u.Scheme+"://"+u.Hostname()] = struct{}{}
			} else {
				p.exact[u.Scheme+"://"+u.Host] = struct{}{}
			}
		}
	}
	return p
}

// Allowed 判断 Origin 头是否在白名单内
func (p *OriginPolicy) Allowed(origin string) bool {
	if p == nil {
		return false
	}
	if p.allowAll {
		return true
	}
	u, err := url.Parse(strings.ToLower(strings.TrimSpace(origin)))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if _, ok := p.schemes[u.Scheme]; ok {
		return true
	}
	if _, ok := p.exact[u.Scheme+"://"+u.Host]; ok {
		return true
	}
	_, ok := p.hosts[u.Scheme+"://"+u.Hostname()]
	return ok
}

// CheckOrigin 供 WebSocket 升级使用。
// 没有 Origin 头的客户端（lens 命令行）和同源页面总是放行
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return p.Allowed(origin)
}
