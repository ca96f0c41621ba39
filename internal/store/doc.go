// Package store 提供每个模块独享的可观察状态容器。
//
// Store 以浅合并方式更新状态，并在每次更新后同步通知订阅者；Dispatch 额外记录
// 动作日志，便于诊断端回放模块内部发生过的状态变化。不同模块之间从不共享 Store。
package store
