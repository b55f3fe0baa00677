package qiuws

import (
	"fmt"
	"sync"
)

// Registry 端口到监听者的登记表
//
// 同一端口至多一个登记项，仅在监听者处于 Listening 时存在。
// 后续绑定同一端口的 Server 通过 Lookup 找到登记者并共享其 WebSocketServer。
type Registry struct {
	mu      sync.Mutex
	servers map[int]*Server
}

var defaultRegistry = NewRegistry()

// NewRegistry 创建空登记表
func NewRegistry() *Registry {
	return &Registry{servers: make(map[int]*Server)}
}

// DefaultRegistry 进程级登记表
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register 登记监听者，非 0 端口已存在登记时返回 ErrPortConflict
func (r *Registry) Register(port int, s *Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[port]; ok && port != 0 {
		return ErrPortConflict.WithError(fmt.Errorf("port %d", port))
	}
	r.servers[port] = s
	return nil
}

// Unregister 仅当登记者为 s 时移除，返回是否移除
func (r *Registry) Unregister(port int, s *Server) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.servers[port] != s {
		return false
	}
	delete(r.servers, port)
	return true
}

// Lookup 查询端口的登记者
func (r *Registry) Lookup(port int) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers[port]
}

// Len 登记项数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.servers)
}
