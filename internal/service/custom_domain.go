package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tinypm/backend/internal/config"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/monitoring"
	"tinypm/backend/internal/storage"
)

// CNAMEResolver 查询域名的 CNAME 目标
type CNAMEResolver interface {
	ResolveCNAME(ctx context.Context, name string) ([]string, error)
}

// DomainEventPublisher 推送域名状态变化
type DomainEventPublisher interface {
	PublishDomainStatus(userID string, record *domain.CustomDomain)
}

// CustomDomainService 自定义域名认领与验证
type CustomDomainService struct {
	store       storage.CustomDomainRepository
	resolver    CNAMEResolver
	rootDomain  string
	cnameTarget string
	cooldown    time.Duration
	maxAttempts int
	metrics     *monitoring.Metrics
	events      DomainEventPublisher
	log         *zap.Logger
	now         func() time.Time
}

// NewCustomDomainService 创建自定义域名服务
func NewCustomDomainService(store storage.CustomDomainRepository, resolver CNAMEResolver, cfg *config.Config, log *zap.Logger) *CustomDomainService {
	cooldown := cfg.Domains.Cooldown
	if cooldown <= 0 {
		cooldown = domain.DefaultVerificationCooldown
	}
	maxAttempts := cfg.Domains.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxVerificationAttempts
	}
	target := cfg.Platform.CNAMETarget
	if target == "" {
		target = cfg.Platform.RootDomain
	}

	return &CustomDomainService{
		store:       store,
		resolver:    resolver,
		rootDomain:  cfg.Platform.RootDomain,
		cnameTarget: target,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		log:         log.Named("custom_domain"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics 设置监控指标
func (s *CustomDomainService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SetEventPublisher 设置状态推送
func (s *CustomDomainService) SetEventPublisher(p DomainEventPublisher) {
	s.events = p
}

// SetClock 替换时钟，测试使用
func (s *CustomDomainService) SetClock(now func() time.Time) {
	s.now = now
}

// View 构建带 DNS 配置说明的视图
func (s *CustomDomainService) View(record *domain.CustomDomain) *domain.CustomDomainView {
	return domain.NewCustomDomainView(record, s.now(), s.cooldown, s.maxAttempts)
}

// ========== 认领 ==========

// ValidateDomain 校验域名并返回规范化结果
func (s *CustomDomainService) ValidateDomain(ctx context.Context, raw string) (string, error) {
	name := domain.NormalizeDomain(raw)

	if err := domain.ValidateDomainName(name); err != nil {
		return "", domain.WrapDomainError(domain.ErrKindInvalidFormat, "invalid domain format", err)
	}

	if domain.IsReservedDomain(name, s.rootDomain) || domain.IsReservedDomain(name, s.cnameTarget) {
		return "", domain.NewDomainError(domain.ErrKindReservedDomain, "cannot use platform domain")
	}

	_, err := s.store.GetCustomDomainByDomain(ctx, name)
	switch {
	case err == nil:
		return "", domain.NewDomainError(domain.ErrKindAlreadyExists, "domain already claimed")
	case errors.Is(err, storage.ErrNotFound):
		return name, nil
	default:
		return "", fmt.Errorf("lookup domain: %w", err)
	}
}

// AddDomain 为用户认领一个自定义域名，初始状态为 PENDING
func (s *CustomDomainService) AddDomain(ctx context.Context, userID, raw string) (*domain.CustomDomain, error) {
	name, err := s.ValidateDomain(ctx, raw)
	if err != nil {
		return nil, err
	}

	code, err := generateToken(16)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	now := s.now()
	record := &domain.CustomDomain{
		ID:               uuid.NewString(),
		UserID:           userID,
		Domain:           name,
		Status:           domain.DomainStatusPending,
		VerificationCode: code,
		CNAMETarget:      s.cnameTarget,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateCustomDomain(ctx, record); err != nil {
		switch {
		case errors.Is(err, storage.ErrSubscriptionRequired):
			return nil, domain.NewDomainError(domain.ErrKindSubscriptionRequired, "an active subscription is required to use custom domains")
		case errors.Is(err, storage.ErrDomainExists):
			return nil, domain.NewDomainError(domain.ErrKindAlreadyExists, "domain already claimed")
		default:
			return nil, fmt.Errorf("create domain: %w", err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordDomainCreated()
	}
	s.log.Info("custom domain claimed",
		zap.String("domain_id", record.ID),
		zap.String("user_id", userID),
		zap.String("domain", name))

	return record, nil
}

// ========== 查询与删除 ==========

// ListDomains 列出用户的全部域名
func (s *CustomDomainService) ListDomains(ctx context.Context, userID string) ([]*domain.CustomDomain, error) {
	records, err := s.store.ListCustomDomainsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	if records == nil {
		records = []*domain.CustomDomain{}
	}
	return records, nil
}

// GetDomain 获取用户自己的域名
func (s *CustomDomainService) GetDomain(ctx context.Context, id, userID string) (*domain.CustomDomain, error) {
	record, err := s.store.GetCustomDomain(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errDomainNotFound()
		}
		return nil, fmt.Errorf("get domain: %w", err)
	}
	if record.UserID != userID {
		return nil, errDomainNotFound()
	}
	return record, nil
}

// DeleteDomain 删除用户自己的域名
func (s *CustomDomainService) DeleteDomain(ctx context.Context, id, userID string) error {
	if err := s.store.DeleteCustomDomain(ctx, id, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errDomainNotFound()
		}
		return fmt.Errorf("delete domain: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordDomainDeleted()
	}
	s.log.Info("custom domain deleted", zap.String("domain_id", id), zap.String("user_id", userID))
	return nil
}

// ========== 验证 ==========

// Verify 发起一次 DNS 验证
//
// 已激活的域名直接返回当前记录，不消耗次数。冷却检查先于次数上限。
// DNS 查询失败或 CNAME 不匹配时记录变为 FAILED 并正常返回，失败原因写在 errorMessage 中。
func (s *CustomDomainService) Verify(ctx context.Context, id, userID string) (*domain.CustomDomain, error) {
	record, err := s.GetDomain(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if record.IsActive() {
		s.recordOutcome(monitoring.OutcomeNoop)
		return record, nil
	}

	now := s.now()
	if err := s.checkAttemptAllowed(record, now); err != nil {
		return nil, err
	}

	claim := storage.AttemptClaim{
		ObservedAttempts:      record.VerificationAttempts,
		ObservedLastAttemptAt: record.LastAttemptAt,
		Now:                   now,
		MaxAttempts:           s.maxAttempts,
	}
	won, err := s.store.BeginVerificationAttempt(ctx, record.ID, claim)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errDomainNotFound()
		}
		return nil, fmt.Errorf("begin verification: %w", err)
	}
	if !won {
		return s.lostRace(ctx, id, userID, now)
	}

	record.VerificationAttempts++
	record.LastAttemptAt = &now
	record.Status = domain.DomainStatusDNSVerification

	outcome := s.checkDNS(ctx, record, now)

	// 客户端断开也要落盘，否则记录会停在 DNS_VERIFICATION
	if err := s.store.SaveVerificationResult(context.WithoutCancel(ctx), record); err != nil {
		return nil, fmt.Errorf("save verification result: %w", err)
	}

	s.recordOutcome(outcome)
	if s.events != nil {
		s.events.PublishDomainStatus(userID, record.Clone())
	}
	s.log.Info("custom domain verification finished",
		zap.String("domain_id", record.ID),
		zap.String("domain", record.Domain),
		zap.String("status", string(record.Status)),
		zap.Int("attempts", record.VerificationAttempts))

	return record, nil
}

func (s *CustomDomainService) checkAttemptAllowed(record *domain.CustomDomain, now time.Time) error {
	if remaining := record.CooldownRemaining(now, s.cooldown); remaining > 0 {
		s.recordOutcome(monitoring.OutcomeCooldown)
		return domain.NewCooldownError(remaining)
	}
	if record.VerificationAttempts >= s.maxAttempts {
		s.recordOutcome(monitoring.OutcomeMaxAttempts)
		return domain.NewDomainError(domain.ErrKindMaxAttempts, "maximum verification attempts reached")
	}
	return nil
}

// lostRace 并发验证中落败，按最新记录重新判断
func (s *CustomDomainService) lostRace(ctx context.Context, id, userID string, now time.Time) (*domain.CustomDomain, error) {
	current, err := s.GetDomain(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if current.IsActive() {
		s.recordOutcome(monitoring.OutcomeNoop)
		return current, nil
	}
	if err := s.checkAttemptAllowed(current, now); err != nil {
		return nil, err
	}
	s.recordOutcome(monitoring.OutcomeCooldown)
	return nil, domain.NewCooldownError(s.cooldown)
}

func (s *CustomDomainService) checkDNS(ctx context.Context, record *domain.CustomDomain, now time.Time) string {
	start := time.Now()
	targets, err := s.resolver.ResolveCNAME(ctx, record.Domain)
	if s.metrics != nil {
		s.metrics.RecordDNSLookup(time.Since(start), err)
	}

	if err != nil {
		reason := "DNS lookup failed"
		if de, ok := domain.AsDomainError(err); ok {
			reason = de.Message
		}
		record.Status = domain.DomainStatusFailed
		record.SetError(fmt.Sprintf("%s for %s. Add a CNAME record pointing to %s and try again",
			reason, record.Domain, record.CNAMETarget))
		s.log.Debug("CNAME lookup failed", zap.String("domain", record.Domain), zap.Error(err))
		return monitoring.OutcomeDNSError
	}

	expected := normalizeHostname(record.CNAMETarget)
	found := make([]string, 0, len(targets))
	for _, t := range targets {
		found = append(found, normalizeHostname(t))
	}

	if !slices.Contains(found, expected) {
		record.Status = domain.DomainStatusFailed
		record.SetError(fmt.Sprintf("%s: CNAME for %s points to %s, expected %s",
			domain.ErrKindInvalidCNAME, record.Domain, strings.Join(found, ", "), record.CNAMETarget))
		return monitoring.OutcomeFailed
	}

	record.Status = domain.DomainStatusActive
	record.VerifiedAt = &now
	record.ClearError()
	return monitoring.OutcomeActive
}

func (s *CustomDomainService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordVerification(outcome)
	}
}

func errDomainNotFound() error {
	return domain.NewDomainError(domain.ErrKindNotFound, "domain not found")
}

// normalizeHostname 统一为小写并去掉末尾的点
func normalizeHostname(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// generateToken 生成随机十六进制令牌
func generateToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
