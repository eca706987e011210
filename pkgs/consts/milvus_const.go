package consts

// 字段名称常量定义
const (
	// FieldNameID 向量ID字段名，{user}_{document}_{chunk}
	FieldNameID = "id"
	// FieldNameUserID 用户ID字段名，所有检索都按它过滤
	FieldNameUserID = "user_id"
	// FieldNameKBID 知识库ID字段名
	FieldNameKBID = "kb_id"
	// FieldNameDocumentID 文档ID字段名
	FieldNameDocumentID = "document_id"
	// FieldNameVector 向量字段名
	FieldNameVector = "vector"
	// FieldNameMetadata meta信息
	FieldNameMetadata = "metadata"
)

var (
	// SearchFields 搜索结果返回的字段
	SearchFields = []string{
		FieldNameID,
		FieldNameMetadata,
	}
)
