// Package tool 实现工具调用层：按名称把工具归类到能力面，经过固定顺序的
// 拦截器链（审计、鉴权、上下文注入、超时执行）调用后端，并保证任何调用
// 都以结构化结果返回而不向编排层抛出异常。
//
// 注册表在启动时由各能力面后端声明的工具装配而成，可叠加 YAML 定义文件
// 的覆盖项（描述、远端地址、停用标记），装配完成后只读，可被并发请求
// 无锁共享。
package tool
