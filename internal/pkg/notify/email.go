package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"todovault/internal/config"
	"todovault/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件投递。
//
// SMTP 未配置时不算错误：降级为日志提示（本地单机跑不强制要求邮箱）。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyOverdue 发送逾期提醒邮件。
func (n *EmailNotifier) NotifyOverdue(ctx context.Context, task *model.Task, toEmail string) error {
	if !n.configured() {
		n.logger.Warn("email config missing, skip overdue notification",
			slog.String("task_id", task.ID), slog.String("title", task.Title))
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip overdue notification", slog.String("task_id", task.ID))
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TodoVault] ⏰ 任务已逾期")
	m.SetBody("text/html", n.buildOverdueBody(task))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("overdue email sent", slog.String("to", toEmail), slog.String("task_id", task.ID))
	return nil
}

// SendPasswordReset 发送密码重置邮件。
//
// 与逾期提醒不同，这里 SMTP 缺失只记日志不报错：重置流程在存储层已经
// 校验过邮箱存在，调用方拿到 nil 即视为"已受理"。
func (n *EmailNotifier) SendPasswordReset(toEmail string) error {
	if !n.configured() {
		n.logger.Warn("email config missing, password reset delivery simulated", slog.String("to", toEmail))
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TodoVault] 密码重置")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>TodoVault 密码重置</h2>
    <p>我们收到了 %s 的密码重置请求。</p>
    <p>如果不是你本人操作，忽略这封邮件即可。</p>
  </div>
</body>
</html>`, toEmail)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("password reset email sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

func (n *EmailNotifier) buildOverdueBody(task *model.Task) string {
	due := task.DueDate
	if task.DueTime != "" {
		due = due + " " + task.DueTime
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .title { font-size: 20px; font-weight: bold; margin-bottom: 8px; }
  .due { font-size: 15px; color: #ef4444; margin-bottom: 16px; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[TodoVault] ⏰ 任务已逾期</div>
    <div class="content">
      <div class="title">%s</div>
      <div class="due">原定完成时间: %s</div>
      <div class="footer">完成或删除任务后将不再收到这条提醒。</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, task.Title, due)
}
