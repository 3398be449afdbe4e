package domain

// CameraFolder 是一次扫描发现的摄像头源目录。每轮扫描重新构建，不持久化。
type CameraFolder struct {
	Location string // 位置名（video_root 下的一级目录名）
	CameraID string // 摄像头 ID（camera_subdir 下的目录名）
	Path     string // 摄像头目录绝对路径
}
