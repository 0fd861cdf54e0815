package chat

import (
	"fmt"
	"strings"
)

// Predefined reply texts. The Chinese strings are part of the product
// surface and must stay byte-exact.
const (
	waitTimeoutMsg   = "这个问题有点难，助手还在思考中...\n\n回复“1”查看回复。"
	askTooFastMsg    = "抱歉，您的回复太快啦，助手还在思考前一个问题呢！\n\n回复“1”查看前一个问题的回复。"
	systemErrorMsg   = "抱歉，系统错误，请稍候再试！"
	tokenExceededMsg = "抱歉，这个话题我们已经聊了太多了。我没法再聊下去了。或许您可以总结一下前面的内容，然后我们再尝试往下聊！"
)

func rateLimitMsg(userID, adminEmail string) string {
	return fmt.Sprintf("抱歉，您今日的聊天次数已达上限，请明日再来！\n\n如希望解除限制，请发送您的ID(%s)至邮箱 %s ，并附上一个充分的理由。", userID, adminEmail)
}

func commandSuccessMsg(detail string) string {
	if detail == "" {
		return "操作成功！"
	}
	return "操作成功！\n\n" + detail
}

func commandFailedMsg(reason string) string {
	return "操作失败，命令格式错误： " + reason
}

// idLookupCommands are matched case- and space-insensitively.
var idLookupCommands = map[string]bool{
	"myid":    true,
	"我的微信id": true,
	"微信id":    true,
}

func isIDLookupCommand(msg string) bool {
	return idLookupCommands[strings.ToLower(strings.ReplaceAll(msg, " ", ""))]
}
