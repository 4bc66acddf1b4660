// Package prompt 维护助手的系统提示词与写操作确认文案。
//
// 系统提示词向大模型声明隐私红线（严禁复述验证码、密码、助记词等敏感内容）、
// 可用能力面（Gmail / X / Telegram / 链上钱包 / 行情）以及引用来源的固定格式。
// System 会按用户实际授权的能力面裁剪提示词，Confirmation 负责在执行写操作
// 之前生成需用户逐字确认的预览文案。
package prompt
