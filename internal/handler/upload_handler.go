package handler

import (
	"course-rag-go/internal/service"
	"course-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxUploadSize 限制单个章节文件的大小。
const maxUploadSize = 50 << 20

// UploadHandler 负责处理章节文件上传索引。
type UploadHandler struct {
	docService service.DocumentService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(docService service.DocumentService) *UploadHandler {
	return &UploadHandler{docService: docService}
}

// IndexFile 接收 multipart 文件，提取文本后按章节索引。
func (h *UploadHandler) IndexFile(c *gin.Context) {
	courseID := c.PostForm("course_id")
	chapterID := c.PostForm("chapter_id")
	if courseID == "" || chapterID == "" {
		respondBadRequest(c, "缺少必要的参数")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "无法获取上传的文件")
		return
	}
	if fileHeader.Size > maxUploadSize {
		respondBadRequest(c, "文件过大")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Error("[UploadHandler] 打开上传文件失败", err)
		respondBadRequest(c, "无法读取上传的文件")
		return
	}
	defer file.Close()

	doc, err := h.docService.IndexFile(c.Request.Context(), courseID, chapterID, fileHeader.Filename, file)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[UploadHandler] 文件索引完成, file: %s, course_id: %s, chapter_id: %s, chunks: %d",
		fileHeader.Filename, courseID, chapterID, doc.ChunkCount)
	respondOK(c, gin.H{"file_name": fileHeader.Filename, "chunks_indexed": doc.ChunkCount, "version": doc.Version})
}
