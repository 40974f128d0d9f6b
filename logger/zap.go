package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOptions 结构化日志器的配置
type ZapOptions struct {
	// Level 最低输出级别: debug / info / warn / error，空串为 info
	Level string
	// Development 为 true 时使用开发编码（彩色、可读时间戳）
	Development bool
	// FilePath 非空时在标准错误之外同时写入该文件
	FilePath string
}

// ZapLogger 基于 zap 的结构化日志实现
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger 构造结构化日志器
// 参数:
//   - opts: 日志配置
//
// 返回:
//   - *ZapLogger: 日志器实例
//   - error: 错误信息
func NewZapLogger(opts ZapOptions) (*ZapLogger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if opts.FilePath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, opts.FilePath)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, opts.FilePath)
	}

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: zl.Sugar()}, nil
}

func (l *ZapLogger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync 刷出缓冲中的日志，进程退出前调用
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }
