package eventType

const (
	ConfigUpdated  = "config.updated"  // 配置写入磁盘成功后触发，参数 path/old/new；path 为空表示整体重新载入
	ConfigReloaded = "config.reloaded" // 配置从磁盘重新载入

	ProcessStart = "process.start" // 进程启动，如果在此事件的监听器中返回错误，进程将退出
	ProcessExit  = "process.exit"  // 进程停止

	ServerInitializeStart = "server.routers.start" // 路由初始化开始，参数 engine 为 *gin.Engine
	ServerInitializeDone  = "server.routers.done"  // 路由初始化完成

	SessionStatusChanged = "session.status.changed" // 会话状态变化，参数 status/last_reason/session_id

	PluginsLoaded  = "plugins.loaded"  // 插件集合加载完成，参数 ids
	PluginsChanged = "plugins.changed" // 插件目录中的文件发生变化，参数 files
	BundleWritten  = "bundle.written"  // 注入脚本已写入，参数 path/size
)
