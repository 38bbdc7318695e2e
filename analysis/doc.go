// Package analysis 对咨询问题做领域、复杂度和安全等级的启发式分析。
//
// 分析与安全分类共享同一时延预算；任一启发式失败时复杂度按 complex 处理，
// 使后续走最完整的检索路径。
package analysis
