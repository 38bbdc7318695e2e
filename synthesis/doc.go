// Package synthesis 将合并后的证据与安全等级合成为最终答案。
//
// escalate 等级只返回固定上报文案（LLM 仅可做本地化，且必须保留必需语句）；
// 无证据或 LLM 返回空内容时给出固定的无证据答复；LLM 不可达为致命错误。
package synthesis
