package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 统一返回码
// 事件应用和业务操作共用同一套语义：
//   200 已生效 / 208 重复投递（幂等视为成功） / 404 关联实体缺失
//   409 余额不足 / 400 参数错误 / 500 内部错误
const (
	CodeSuccess      = 200
	CodeDuplicate    = 208
	CodeParamError   = 400
	CodeNotFound     = 404
	CodeInsufficient = 409
	CodeServerError  = 500
)

type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Data: data,
	})
}

// Duplicate 重复投递不是错误，照样返回 200 HTTP 状态
func Duplicate(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Response{
		Code: CodeDuplicate,
		Msg:  msg,
	})
}

func Error(c *gin.Context, code int, msg string) {
	c.JSON(http.StatusOK, Response{
		Code: code,
		Msg:  msg,
	})
}

func ParamError(c *gin.Context, msg string) {
	Error(c, CodeParamError, msg)
}

func NotFound(c *gin.Context, msg string) {
	Error(c, CodeNotFound, msg)
}

func Insufficient(c *gin.Context, msg string) {
	Error(c, CodeInsufficient, msg)
}

func ServerError(c *gin.Context, msg string) {
	Error(c, CodeServerError, msg)
}
