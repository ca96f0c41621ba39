// Package module 定义可在运行时装载的模块契约，并提供统一的定义注册入口。
//
// 模块作者需要：
//   1. 在 internal/module/<module-key>/ 目录下实现 Factory 与 Instance；
//   2. 通过本包暴露的 MustRegister 在 init() 中注册 Definition；
//   3. 需要接收宿主推送的数据时，额外实现 LiveUpdater。
//
// 宿主通过 Descriptor 描述一次注册，通过 Resolver 将 Descriptor.Source 解析为 Definition。
package module
