package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
)

var (
	// ErrNoCNAME 域名存在但没有 CNAME 记录
	ErrNoCNAME = errors.New("no CNAME record found")
	// ErrNXDomain 域名不存在
	ErrNXDomain = errors.New("domain does not exist")
)

// Config DNS 查询配置
type Config struct {
	Nameservers []string      // 形如 "1.1.1.1:53"，留空使用系统解析器
	Timeout     time.Duration // 单次查询超时
}

// Verifier 通过 DNS 查询域名的 CNAME 记录
type Verifier struct {
	nameservers []string
	timeout     time.Duration
	resolver    *net.Resolver
	log         *zap.Logger
}

// NewVerifier 创建 DNS 验证器
func NewVerifier(cfg Config, log *zap.Logger) *Verifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	servers := make([]string, 0, len(cfg.Nameservers))
	for _, ns := range cfg.Nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		servers = append(servers, ns)
	}

	return &Verifier{
		nameservers: servers,
		timeout:     timeout,
		resolver:    net.DefaultResolver,
		log:         log.Named("dns"),
	}
}

// ResolveCNAME 返回域名的 CNAME 目标（小写、去掉末尾的点）
//
// 每个 DNS 服务器最多等待一个超时周期，按配置顺序依次尝试。
// 解析器返回整条 CNAME 链时，链上的每个目标都会返回。
// 任何失败（包括没有 CNAME 记录）都返回 DNS_ERROR 类别的错误。
func (v *Verifier) ResolveCNAME(ctx context.Context, name string) ([]string, error) {
	budget := v.timeout
	if n := len(v.nameservers); n > 1 {
		budget *= time.Duration(n)
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		targets []string
		err     error
	)
	if len(v.nameservers) == 0 {
		targets, err = v.lookupSystem(ctx, name)
	} else {
		targets, err = v.lookupNameservers(ctx, name)
	}

	if err != nil {
		v.log.Debug("CNAME lookup failed", zap.String("domain", name), zap.Error(err))
		return nil, domain.WrapDomainError(domain.ErrKindDNSError, describe(err), err)
	}
	return targets, nil
}

func (v *Verifier) lookupNameservers(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeCNAME)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range v.nameservers {
		resp, err := v.exchange(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, ErrNXDomain
		default:
			lastErr = fmt.Errorf("nameserver %s answered %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}

		var targets []string
		for _, rr := range resp.Answer {
			if cname, ok := rr.(*dns.CNAME); ok {
				targets = append(targets, Normalize(cname.Target))
			}
		}
		if len(targets) == 0 {
			return nil, ErrNoCNAME
		}
		return targets, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no nameserver answered")
	}
	return nil, lastErr
}

func (v *Verifier) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	client := &dns.Client{Net: "udp", Timeout: v.timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: v.timeout}
		resp, _, err = tcp.ExchangeContext(ctx, msg, server)
		return resp, err
	}
	return resp, nil
}

func (v *Verifier) lookupSystem(ctx context.Context, name string) ([]string, error) {
	canonical, err := v.resolver.LookupCNAME(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNXDomain
		}
		return nil, err
	}

	// 没有 CNAME 时系统解析器返回名字本身
	target := Normalize(canonical)
	if target == "" || target == Normalize(name) {
		return nil, ErrNoCNAME
	}
	return []string{target}, nil
}

// Normalize 统一为小写并去掉末尾的点
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrNoCNAME):
		return "no CNAME record found"
	case errors.Is(err, ErrNXDomain):
		return "domain does not exist in DNS"
	case errors.Is(err, context.DeadlineExceeded):
		return "DNS lookup timed out"
	default:
		return "DNS lookup failed"
	}
}
