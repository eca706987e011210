package errcode

// 通用错误码
const (
	Success             = 0
	ParamBindError      = 10001
	ParamValidateError  = 10002
	UnauthorizedError   = 10003
	ForbiddenError      = 10004
	NotFoundError       = 10005
	InternalServerError = 10006
)

// 知识库相关错误码
const (
	KBNotFound        = 20001
	KBNameDuplicated  = 20002
	KBInvalidChunking = 20003
	DocumentNotFound  = 20101
	DocumentStatus    = 20102
	ChunkNotFound     = 20201
	SearchFailed      = 20301
)

// 上传相关错误码
const (
	FileUploadFailed    = 30001
	FileTooLarge        = 30002
	FileTypeUnsupported = 30003
	QuotaExceeded       = 30004
	FileNotFound        = 30005
)
