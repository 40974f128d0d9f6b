package Source

import "errors"

// 错误定义
// 统一管理所有包级别的错误类型和变量，便于错误处理和使用

var (
	// ErrTileNotFound 表示提供方没有该瓦片的数据（可通过祖先回退恢复）
	ErrTileNotFound = errors.New("tile not found")

	// ErrFetchCancelled 表示取数被上层主动取消（与无数据是不同的结果）
	ErrFetchCancelled = errors.New("fetch cancelled")

	// ErrProfileIncompatible 表示数据源剖面与工作剖面不相容（数据源被丢弃，不致命）
	ErrProfileIncompatible = errors.New("provider profile incompatible with working profile")

	// ErrNoValidSources 表示构造后没有任何存活的数据源
	ErrNoValidSources = errors.New("no valid providers survived construction")

	// ErrProfileUnresolved 表示协调后工作剖面仍然未知
	ErrProfileUnresolved = errors.New("working profile remains unresolved")

	// ErrGeocentricProjected 表示平面投影剖面无法服务地心消费方
	ErrGeocentricProjected = errors.New("projected profile cannot serve a geocentric consumer")

	// ErrCacheStore 表示瓦片存储后端读写失败。缓存装饰器只记录日志
	// 按未命中继续；store 驱动数据源包装后上抛，调用方可据此与无数据区分
	ErrCacheStore = errors.New("cache store failure")

	// ErrUnknownDriver 表示注册表中没有该驱动
	ErrUnknownDriver = errors.New("unknown provider driver")

	// ErrInvalidSet 表示对无效的数据源集合发起取数
	ErrInvalidSet = errors.New("source set is not valid")
)
